// Package params resolves runtime settings from SSM Parameter Store.
//
// Every setting has a hardcoded default: a missing parameter, a lookup
// failure, or an unparsable value degrades to the default and is logged,
// never surfaced as a fatal error. Deployment wiring (tables, queues,
// regions) lives in process configuration instead; this package only holds
// the tunables operators change between runs.
package params

import (
	"context"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"

	"github.com/3leaps/costsentry/pkg/anomaly"
)

// Parameter names, appended to the configured prefix.
const (
	KeyUsageTypes           = "UsageTypes"
	KeyDaysOfWeek           = "DaysOfWeek"
	KeyLookbackPeriod       = "LookBackPeriod"
	KeyChangeThreshold      = "ChangeThreshold"
	KeyMinIncreaseThreshold = "MinIncreaseThreshold"
	KeyLinkedAccounts       = "LinkedAccounts"
	KeyTopicARN             = "SNSTopicARN"
)

// DefaultPrefix is the parameter path prefix when none is configured.
const DefaultPrefix = "/Billing/BAT"

// Setting defaults.
const (
	DefaultLookbackDays = 30
)

// wildcardAll disables an allow-list ("match everything").
const wildcardAll = "*"

// SSMAPI is the subset of the SSM client used here.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Settings resolves runtime parameters with defaulting.
//
// Safe for concurrent use. Values are looked up per call, not cached: a job
// takes minutes and operators expect threshold edits to land on the next
// item, matching the original system's behavior.
type Settings struct {
	client    SSMAPI
	prefix    string
	overrides map[string]string
	logger    *zap.Logger
}

// NewSettings creates a Settings resolver.
//
// overrides (usually loaded from a YAML file for local runs) shadow SSM by
// bare key name; pass nil for production use.
func NewSettings(client SSMAPI, prefix string, overrides map[string]string, logger *zap.Logger) *Settings {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Settings{
		client:    client,
		prefix:    strings.TrimRight(prefix, "/"),
		overrides: overrides,
		logger:    logger,
	}
}

// lookup returns the raw value for a key, or false when it is unavailable.
func (s *Settings) lookup(ctx context.Context, key string) (string, bool) {
	if v, ok := s.overrides[key]; ok {
		return v, true
	}
	if s.client == nil {
		return "", false
	}

	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name: aws.String(s.prefix + "/" + key),
	})
	if err != nil {
		s.logger.Warn("Parameter lookup failed, using default",
			zap.String("key", key),
			zap.Error(err))
		return "", false
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", false
	}
	return aws.ToString(out.Parameter.Value), true
}

// ActiveWeekdays returns the configured weekday set (default: all days).
func (s *Settings) ActiveWeekdays(ctx context.Context) anomaly.Weekdays {
	v, ok := s.lookup(ctx, KeyDaysOfWeek)
	if !ok {
		return anomaly.AllWeekdays()
	}
	return anomaly.ParseWeekdays(v)
}

// LookbackDays returns the baseline window length in days (default 30;
// values below 1 fall back to the default).
func (s *Settings) LookbackDays(ctx context.Context) int {
	v, ok := s.lookup(ctx, KeyLookbackPeriod)
	if !ok {
		return DefaultLookbackDays
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 1 {
		s.logger.Warn("Invalid lookback period, using default", zap.String("value", v))
		return DefaultLookbackDays
	}
	return n
}

// RelativeChangeThreshold returns the relative trigger floor (default 0.20;
// non-positive values fall back to the default).
func (s *Settings) RelativeChangeThreshold(ctx context.Context) float64 {
	v, ok := s.lookup(ctx, KeyChangeThreshold)
	if !ok {
		return anomaly.DefaultRelativeChange
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f <= 0 {
		s.logger.Warn("Invalid change threshold, using default", zap.String("value", v))
		return anomaly.DefaultRelativeChange
	}
	return f
}

// MinIncreaseThreshold returns the absolute trigger floor in currency units
// (default 0; negative values are clamped to 0).
func (s *Settings) MinIncreaseThreshold(ctx context.Context) float64 {
	v, ok := s.lookup(ctx, KeyMinIncreaseThreshold)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f < 0 {
		if err != nil {
			s.logger.Warn("Invalid minimum increase threshold, using default", zap.String("value", v))
		}
		return 0
	}
	return f
}

// UsageTypeAllowList returns the configured usage-type allow-list, or nil
// when all types are allowed ("*" or unset).
func (s *Settings) UsageTypeAllowList(ctx context.Context) *AllowList {
	v, ok := s.lookup(ctx, KeyUsageTypes)
	if !ok {
		return nil
	}
	list, err := ParseAllowList(v)
	if err != nil {
		s.logger.Warn("Invalid usage type allow-list, allowing all", zap.Error(err))
		return nil
	}
	return list
}

// LinkedAccounts returns the configured account filter, or nil when all
// accounts are included ("*" or unset).
func (s *Settings) LinkedAccounts(ctx context.Context) []string {
	v, ok := s.lookup(ctx, KeyLinkedAccounts)
	if !ok || strings.TrimSpace(v) == wildcardAll {
		return nil
	}
	return splitList(v)
}

// TopicARN returns the notification topic ARN, or "" when not configured.
func (s *Settings) TopicARN(ctx context.Context) string {
	v, _ := s.lookup(ctx, KeyTopicARN)
	return strings.TrimSpace(v)
}

// splitList splits a comma-separated value, dropping empty entries.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
