// Package api 内嵌 HTTP API 契约
package api

import "embed"

// OpenAPIFS dashboard API 的 OpenAPI 3 契约
//
//go:embed openapi/*.yaml
var OpenAPIFS embed.FS

// DashboardSpec 契约文件在 OpenAPIFS 中的路径
const DashboardSpec = "openapi/dashboard.yaml"
