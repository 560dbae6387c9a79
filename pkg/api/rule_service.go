package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/haolipeng/trident_firewall/pkg/logging"
	"github.com/haolipeng/trident_firewall/pkg/processor"
	"github.com/haolipeng/trident_firewall/pkg/ruleEngine"
	"github.com/haolipeng/trident_firewall/pkg/types"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// 响应结构体
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// CreateRuleRequest 添加规则的请求体，Rule 非空时按文本规则解析，
// 否则按结构化规则处理
type CreateRuleRequest struct {
	Rule string `json:"rule"`
	ruleEngine.RuleRecord
}

func (req CreateRuleRequest) build() (*ruleEngine.Rule, error) {
	if req.Rule != "" {
		return ruleEngine.ParseRule(req.Rule)
	}
	return req.RuleRecord.Build()
}

// RuleService 规则服务
type RuleService struct {
	engine   *processor.RuleEngine
	recorder *logging.Recorder
}

// NewRuleService 创建规则服务，recorder 为nil时 /firewall/logs 返回空列表
func NewRuleService(engine *processor.RuleEngine, recorder *logging.Recorder) *RuleService {
	return &RuleService{
		engine:   engine,
		recorder: recorder,
	}
}

// GetRules 按规则库顺序列出规则，可按 action 过滤
func (rs *RuleService) GetRules(c echo.Context) error {
	var filter ruleEngine.Action
	if raw := c.QueryParam("action"); raw != "" {
		action, ok := ruleEngine.ParseAction(raw)
		if !ok {
			return HandleError(c, NewBadRequestError("action 只能是 ALLOW 或 DENY", nil))
		}
		filter = action
	}

	rules := make([]ruleEngine.Rule, 0, rs.engine.Len())
	for rule := range rs.engine.Rules() {
		if filter != "" && rule.Action != filter {
			continue
		}
		rules = append(rules, rule)
	}

	logrus.WithFields(logrus.Fields{
		"rule_count": len(rules),
		"action":     string(filter),
		"operation":  "list_rules",
	}).Debug("获取规则列表")

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "获取规则成功",
		Data:    rules,
	})
}

// GetRule 获取指定规则
func (rs *RuleService) GetRule(c echo.Context) error {
	ruleID := c.Param("rule_id")
	rule, ok := rs.engine.GetRule(ruleID)
	if !ok {
		return HandleError(c, NewRuleNotFoundError(ruleID))
	}

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "获取规则成功",
		Data:    rule,
	})
}

// CreateRule 向规则库追加规则
func (rs *RuleService) CreateRule(c echo.Context) error {
	var req CreateRuleRequest
	if err := c.Bind(&req); err != nil {
		return HandleError(c, NewInvalidRuleFormatError(err))
	}

	rule, err := req.build()
	if err != nil {
		return HandleError(c, NewInvalidRuleFormatError(err))
	}

	id, err := rs.engine.AddRule(rule)
	if err != nil {
		if errors.Is(err, processor.ErrDuplicateRuleID) {
			return HandleError(c, NewRuleAlreadyExistsError(err))
		}
		return HandleError(c, NewInvalidRuleFormatError(err))
	}

	stored, _ := rs.engine.GetRule(id)
	return c.JSON(http.StatusCreated, Response{
		Code:    http.StatusCreated,
		Message: "创建规则成功",
		Data:    stored,
	})
}

// ValidateRule 只校验规则格式，不写入规则库
func (rs *RuleService) ValidateRule(c echo.Context) error {
	var req CreateRuleRequest
	if err := c.Bind(&req); err != nil {
		return HandleError(c, NewInvalidRuleFormatError(err))
	}

	rule, err := req.build()
	if err != nil {
		return HandleError(c, NewInvalidRuleFormatError(err))
	}

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "规则格式有效",
		Data:    rule,
	})
}

// CheckPacket 对请求体中的数据包属性做判定
func (rs *RuleService) CheckPacket(c echo.Context) error {
	var attrs types.Attributes
	if err := json.NewDecoder(c.Request().Body).Decode(&attrs); err != nil {
		return HandleError(c, NewBadRequestError("数据包属性格式无效", err))
	}

	decision := rs.engine.Decide(attrs)
	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "判定完成",
		Data:    decision,
	})
}

// IsAllowed 按协议和端口判定
func (rs *RuleService) IsAllowed(c echo.Context) error {
	protocol := c.QueryParam("protocol")
	if protocol == "" {
		return HandleError(c, NewBadRequestError("缺少 protocol 参数", nil))
	}
	port, err := strconv.Atoi(c.QueryParam("port"))
	if err != nil {
		return HandleError(c, NewBadRequestError("port 必须是整数", err))
	}

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "判定完成",
		Data: map[string]interface{}{
			"protocol": protocol,
			"port":     port,
			"allowed":  rs.engine.IsAllowed(protocol, port),
		},
	})
}

// GetStats 返回规则数量和判定计数
func (rs *RuleService) GetStats(c echo.Context) error {
	stats := rs.engine.Metrics().GetStats()
	stats["rule_count"] = rs.engine.Len()

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "获取统计成功",
		Data:    stats,
	})
}

// GetLogs 返回内存中记录的最近日志
func (rs *RuleService) GetLogs(c echo.Context) error {
	logs := []string{}
	if rs.recorder != nil {
		logs = rs.recorder.Logs()
	}

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "获取日志成功",
		Data:    logs,
	})
}
