// Package routes defines the API routes and URL structure
package routes

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/paperhtml/renderd/pkg/api/v1/handlers"
)

/*

To keep this file organized, routes should be organized in the following way:

1. Smallest scope first (i.e. render routes before document routes)
2. For similar scopes, put the endpoints in alphabetical order
3. Order routes in GET, POST, PUT, DELETE order.
	a. Within this ordering, param urls (ie /:id) should go last, otherwise fiber will interpret the route slug as that param.
	b. After param considerations, order alphabetically.
4. For clarity, naming should match the action (i.e. GetRender, CreateRender)

*/

// API base configuration
const (
	// DefaultPort is the default port for the API
	DefaultPort = "8080"
	// APIv1Prefix is the prefix for all API endpoints
	APIv1Prefix = "/api/v1"
)

// DefaultBaseURL is the default base URL for the API
var DefaultBaseURL = fmt.Sprintf("http://localhost:%s", DefaultPort)

// Route names for lookup
const (
	// Health check
	HealthCheck = "HealthCheck"

	// Render routes
	GetRenderState    = "GetRenderState"
	UpdateRenderState = "UpdateRenderState"

	// Document routes
	GetDocumentRender      = "GetDocumentRender"
	GetDocumentRenderState = "GetDocumentRenderState"
	GetDocumentRenders     = "GetDocumentRenders"
	CreateDocumentRender   = "CreateDocumentRender"
)

// routeCache stores extracted routes for use prior to compilation
var (
	routeCache     map[string]string
	routeCacheMu   sync.RWMutex
	routeCacheInit sync.Once
)

// RegisterRoutes configures all the v1 routes
//
// NOTE: the webhook lives outside the API prefix because its URL is baked
// into the command of every running job.
func RegisterRoutes(app *fiber.App, renderHandler *handlers.RenderHandler) {
	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	}).Name(HealthCheck)

	// Job webhook
	app.Post("/renders/:id/update-state", renderHandler.UpdateState).Name(UpdateRenderState)

	// API v1 routes
	v1 := app.Group(APIv1Prefix)

	// Render endpoints
	renders := v1.Group("/renders")
	renders.Get("/:id/state", renderHandler.GetRenderState).Name(GetRenderState)

	// Document endpoints
	documents := v1.Group("/documents")
	documents.Get("/:id/render", renderHandler.GetRender).Name(GetDocumentRender)
	documents.Get("/:id/render-state", renderHandler.GetDocumentRenderState).Name(GetDocumentRenderState)
	documents.Get("/:id/renders", renderHandler.ListRenders).Name(GetDocumentRenders)
	documents.Post("/:id/render", renderHandler.CreateRender).Name(CreateDocumentRender)
}

// initRouteCache initializes the route cache by creating a mock app and extracting routes
func initRouteCache() {
	routeCacheInit.Do(func() {
		routeCache = make(map[string]string)

		app := fiber.New()
		RegisterRoutes(app, &handlers.RenderHandler{})

		for _, route := range app.GetRoutes() {
			if route.Name != "" {
				routeCache[route.Name] = route.Path
			}
		}
	})
}

// GetRoute returns the route pattern for the given route name
func GetRoute(name string) string {
	routeCacheMu.RLock()
	defer routeCacheMu.RUnlock()

	// Initialize cache if needed
	if routeCache == nil {
		routeCacheMu.RUnlock()
		initRouteCache()
		routeCacheMu.RLock()
	}

	return routeCache[name]
}

// BuildURL builds a URL for the given route name and parameters
func BuildURL(routeName string, params map[string]string, queryParams url.Values) string {
	route := GetRoute(routeName)
	if route == "" {
		return ""
	}

	for param, value := range params {
		route = strings.ReplaceAll(route, ":"+param, value)
	}

	if len(queryParams) > 0 {
		route = fmt.Sprintf("%s?%s", route, queryParams.Encode())
	}

	return route
}

// HealthCheckURL returns the URL for the health check endpoint
func HealthCheckURL() string {
	return BuildURL(HealthCheck, nil, nil)
}

// Render route helpers

// GetRenderStateURL returns the URL for getting the state of a render
func GetRenderStateURL(id uint) string {
	return BuildURL(GetRenderState, map[string]string{"id": fmt.Sprint(id)}, nil)
}

// UpdateRenderStateURL returns the webhook URL of a render
func UpdateRenderStateURL(id uint) string {
	return BuildURL(UpdateRenderState, map[string]string{"id": fmt.Sprint(id)}, nil)
}

// Document route helpers

// GetDocumentRenderURL returns the URL for getting the render to display for a document
func GetDocumentRenderURL(id uint) string {
	return BuildURL(GetDocumentRender, map[string]string{"id": fmt.Sprint(id)}, nil)
}

// GetDocumentRenderStateURL returns the URL for getting the latest render state of a document
func GetDocumentRenderStateURL(id uint) string {
	return BuildURL(GetDocumentRenderState, map[string]string{"id": fmt.Sprint(id)}, nil)
}

// GetDocumentRendersURL returns the URL for listing the renders of a document
func GetDocumentRendersURL(id uint, queryParams url.Values) string {
	return BuildURL(GetDocumentRenders, map[string]string{"id": fmt.Sprint(id)}, queryParams)
}

// CreateDocumentRenderURL returns the URL for forcing a new render of a document
func CreateDocumentRenderURL(id uint) string {
	return BuildURL(CreateDocumentRender, map[string]string{"id": fmt.Sprint(id)}, nil)
}
