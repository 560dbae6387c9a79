package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/haolipeng/trident_firewall/pkg/config"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server HTTP 服务器
type Server struct {
	echo *echo.Echo
	addr string
}

// NewServer 创建一个新的 HTTP 服务器
func NewServer(cfg *config.Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	return &Server{
		echo: e,
		addr: cfg.Address(),
	}
}

// Start 启动 HTTP 服务器，正常关闭时返回nil
func (s *Server) Start() error {
	logrus.Infof("API server listening on %s", s.addr)
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 停止 HTTP 服务器
func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// GetEcho 获取Echo实例
func (s *Server) GetEcho() *echo.Echo {
	return s.echo
}

// RegisterRuleService 注册规则服务
func (s *Server) RegisterRuleService(rs *RuleService) {
	g := s.echo.Group("/firewall")
	g.GET("/rules", rs.GetRules)               // 获取规则列表
	g.GET("/rules/:rule_id", rs.GetRule)       // 获取指定规则
	g.POST("/rules", rs.CreateRule)            // 添加规则
	g.POST("/rules/validate", rs.ValidateRule) // 验证规则有效性
	g.POST("/check", rs.CheckPacket)           // 判定数据包
	g.GET("/allowed", rs.IsAllowed)            // 按协议和端口判定
	g.GET("/stats", rs.GetStats)               // 判定统计
	g.GET("/logs", rs.GetLogs)                 // 最近日志
}

// RegisterMetrics 注册Prometheus指标接口
func (s *Server) RegisterMetrics(gatherer prometheus.Gatherer) {
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}
