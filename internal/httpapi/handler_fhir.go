package httpapi

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/tm2bridge/tm2bridge/internal/apperr"
	"github.com/tm2bridge/tm2bridge/internal/cache"
	"github.com/tm2bridge/tm2bridge/internal/models"
)

// fhirMetadataHandler handles GET /fhir/metadata: a minimal
// CapabilityStatement advertising the three operations this façade
// actually implements.
func (s *Server) fhirMetadataHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"resourceType": "CapabilityStatement",
		"status":       "active",
		"kind":         "instance",
		"fhirVersion":  "4.0.1",
		"format":       []string{"json"},
		"rest": []map[string]any{
			{
				"mode": "server",
				"resource": []map[string]any{
					{
						"type": "CodeSystem",
						"operation": []map[string]any{
							{"name": "lookup", "definition": "http://hl7.org/fhir/OperationDefinition/CodeSystem-lookup"},
						},
					},
					{
						"type": "ConceptMap",
						"operation": []map[string]any{
							{"name": "translate", "definition": "http://hl7.org/fhir/OperationDefinition/ConceptMap-translate"},
						},
					},
					{
						"type": "ValueSet",
						"operation": []map[string]any{
							{"name": "expand", "definition": "http://hl7.org/fhir/OperationDefinition/ValueSet-expand"},
						},
					},
				},
			},
		},
	})
}

// fhirLookupHandler handles GET /fhir/CodeSystem/$lookup?system=&code=.
// Only a successful lookup is cached: a not-found OperationOutcome is a
// >=400 response and must never be stored.
func (s *Server) fhirLookupHandler(c *echo.Context) error {
	code := c.QueryParam("code")
	if code == "" {
		return writeAppError(c, apperr.New(apperr.KindValidation, "code is required"))
	}
	system := models.System(c.QueryParam("system"))

	key := cache.Key("lookup", string(system), code)
	if cached, ok := s.caches.FHIR.Get(key); ok {
		return c.JSON(http.StatusOK, cached.(map[string]any))
	}

	body, err := s.fhir.Lookup(c.Request().Context(), system, code)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return c.JSON(http.StatusNotFound, body)
		}
		return writeAppError(c, err)
	}
	s.caches.FHIR.Set(key, body)
	return c.JSON(http.StatusOK, body)
}

// fhirTranslateHandler handles POST /fhir/ConceptMap/$translate?system=&code=.
func (s *Server) fhirTranslateHandler(c *echo.Context) error {
	code := c.QueryParam("code")
	system := models.System(c.QueryParam("system"))
	if code == "" || !system.Valid() {
		return writeAppError(c, apperr.New(apperr.KindValidation, "code and a valid system are required"))
	}

	body, err := s.fhir.Translate(c.Request().Context(), system, code)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return c.JSON(http.StatusNotFound, body)
		}
		return writeAppError(c, err)
	}
	return c.JSON(http.StatusOK, body)
}

// fhirExpandHandler handles GET /fhir/ValueSet/$expand?filter=&count=&offset=.
func (s *Server) fhirExpandHandler(c *echo.Context) error {
	filter := c.QueryParam("filter")
	count := queryInt(c, "count", 20)
	if count > 100 {
		count = 100
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	key := cache.Key("expand", filter, strconv.Itoa(count), strconv.Itoa(offset))
	if cached, ok := s.caches.FHIR.Get(key); ok {
		return c.JSON(http.StatusOK, cached.(map[string]any))
	}

	body, err := s.fhir.Expand(c.Request().Context(), filter, count, offset)
	if err != nil {
		return writeAppError(c, err)
	}
	s.caches.FHIR.Set(key, body)
	return c.JSON(http.StatusOK, body)
}
