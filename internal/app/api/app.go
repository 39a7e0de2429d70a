// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/hertz-contrib/obs-opentelemetry/provider"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"

	"medqa-platform/internal/api/http"
	"medqa-platform/internal/api/http/middleware"
	"medqa-platform/internal/app"
	"medqa-platform/internal/broker"
	"medqa-platform/pkg/config"
	"medqa-platform/pkg/log"
	"medqa-platform/pkg/tracing"
)

// otelProviderShutdown 用于优雅关闭时关闭 OpenTelemetry provider
type otelProviderShutdown interface {
	Shutdown(ctx context.Context) error
}

// App API 应用（装配 HTTP Router、Handler、Middleware）
type App struct {
	config       *app.Bootstrap
	router       *http.Router
	hertz        *server.Hertz
	otelProvider otelProviderShutdown
}

// NewApp 创建 API 应用
func NewApp(bootstrap *app.Bootstrap) (*App, error) {
	if bootstrap == nil || bootstrap.Broker == nil || bootstrap.Memory == nil || bootstrap.Time == nil {
		return nil, fmt.Errorf("bootstrap is not initialized")
	}
	handler := http.NewHandler(bootstrap.Time, bootstrap.Memory)
	handler.SetLogger(bootstrap.Logger.With("component", "http"))
	handler.SetHealthChecker(bootstrap.Broker, configuredServices(bootstrap.Broker)...)
	return &App{
		config: bootstrap,
		router: http.NewRouter(handler, middleware.NewMiddleware()),
	}, nil
}

func configuredServices(c *broker.Client) []broker.ServiceName {
	var out []broker.ServiceName
	for _, svc := range []broker.ServiceName{broker.ServiceTime, broker.ServiceMemory} {
		if _, ok := c.Descriptor(svc); ok {
			out = append(out, svc)
		}
	}
	return out
}

// Run 启动 HTTP 服务，addr 如 ":8080"
func (a *App) Run(addr string) error {
	a.config.Logger.Info("API 服务启动", "addr", addr)

	// Hertz 日志与应用日志共用输出与级别
	levelVar := &slog.LevelVar{}
	levelVar.Set(log.ParseLevel(a.config.Config.Log.Level))
	hlog.SetLogger(hertzslog.NewLogger(
		hertzslog.WithOutput(a.config.Logger.Output()),
		hertzslog.WithLevel(levelVar),
	))

	tc := a.config.Config.Monitoring.Tracing
	if !tc.Enable {
		a.hertz = a.router.Build(addr)
		return a.hertz.Run()
	}

	serviceName := tc.ServiceName
	if serviceName == "" {
		serviceName = "medqa-api"
	}
	endpoint := tc.ExportEndpoint
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		a.config.Logger.Warn("链路追踪未配置 export_endpoint，已跳过")
		a.hertz = a.router.Build(addr)
		return a.hertz.Run()
	}

	p, err := newTracerProvider(context.Background(), tc, serviceName, endpoint)
	if err != nil {
		return fmt.Errorf("初始化链路追踪失败: %w", err)
	}
	a.otelProvider = p
	tracerOpt, cfg := hertztracing.NewServerTracer()
	a.hertz = a.router.Build(addr, tracerOpt)
	a.hertz.Use(hertztracing.ServerMiddleware(cfg))
	a.config.Logger.Info("链路追踪已启用", "service_name", serviceName, "endpoint", endpoint, "protocol", tc.Protocol)
	return a.hertz.Run()
}

// newTracerProvider grpc 使用 hertz-contrib provider，其余走 OTLP/HTTP
func newTracerProvider(ctx context.Context, tc config.TracingConfig, serviceName, endpoint string) (otelProviderShutdown, error) {
	if tc.Protocol == "grpc" {
		opts := []provider.Option{
			provider.WithServiceName(serviceName),
			provider.WithExportEndpoint(endpoint),
		}
		if tc.Insecure {
			opts = append(opts, provider.WithInsecure())
		}
		return provider.NewOpenTelemetryProvider(opts...), nil
	}
	return tracing.InitTracer(ctx, tracing.OTelConfig{
		ServiceName:    serviceName,
		ExportEndpoint: endpoint,
		Insecure:       tc.Insecure,
	})
}

// Shutdown 优雅关闭（传入 ctx 以支持超时，如 cmd 层 WithTimeout）
func (a *App) Shutdown(ctx context.Context) error {
	if a.hertz != nil {
		if err := a.hertz.Shutdown(ctx); err != nil {
			return err
		}
	}
	if a.otelProvider != nil {
		_ = a.otelProvider.Shutdown(ctx)
	}
	return a.config.Close()
}
