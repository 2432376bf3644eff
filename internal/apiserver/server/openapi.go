package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"

	"labflow-admin/api"
)

// LoadContract 加载内嵌的 dashboard OpenAPI 契约并构建路由
func LoadContract() (routers.Router, error) {
	data, err := api.OpenAPIFS.ReadFile(api.DashboardSpec)
	if err != nil {
		return nil, fmt.Errorf("read contract: %w", err)
	}
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("load contract: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid contract: %w", err)
	}
	return legacy.NewRouter(doc)
}

// ValidationMiddleware 按 OpenAPI 契约校验请求
//
// 契约中未声明的路径和方法直接放行，由 ServeMux 决定 404/405。
func ValidationMiddleware(router routers.Router) func(http.Handler) http.Handler {
	opts := &openapi3filter.Options{
		AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, err := router.FindRoute(r)
			if err != nil {
				// 路径或方法不在契约中（*routers.RouteError）
				next.ServeHTTP(w, r)
				return
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options:    opts,
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				log.Printf("[api.validate.rejected] method=%s path=%s error=%v", r.Method, r.URL.Path, err)
				writeError(w, http.StatusBadRequest, requestErrorMessage(err))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestErrorMessage 提取简短的校验失败原因
func requestErrorMessage(err error) string {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.Parameter != nil {
			return fmt.Sprintf("invalid parameter %q: %s", reqErr.Parameter.Name, reqErr.Error())
		}
		return "invalid request body: " + reqErr.Error()
	}
	return err.Error()
}
