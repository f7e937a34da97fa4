package tsuiseki

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/tsuiseki/internal/config"
	"github.com/ashita-ai/tsuiseki/internal/service/retention"
)

func TestMergePlans(t *testing.T) {
	configured := []config.RetentionPlan{
		{Name: "hobby", TTL: 720 * time.Hour},
		{Name: "pro", TTL: 2160 * time.Hour},
	}
	extra := []retentionPlan{
		{name: "pro", ttl: 24 * time.Hour},
		{name: "enterprise", ttl: 8760 * time.Hour},
	}

	got := mergePlans(configured, extra)

	assert.Equal(t, []retention.Plan{
		{Name: "hobby", TTL: 720 * time.Hour},
		{Name: "pro", TTL: 24 * time.Hour},
		{Name: "enterprise", TTL: 8760 * time.Hour},
	}, got)
}

func TestMergePlansEmpty(t *testing.T) {
	assert.Empty(t, mergePlans(nil, nil))
}

func TestOptionsApply(t *testing.T) {
	var o resolvedOptions
	for _, fn := range []Option{
		WithPort(9090),
		WithDatabaseURL("postgres://x"),
		WithVersion("1.2.3"),
		WithRetentionPlan("hobby", time.Hour),
		WithRetentionPlan("pro", 2*time.Hour),
	} {
		fn(&o)
	}
	assert.Equal(t, 9090, o.port)
	assert.Equal(t, "postgres://x", o.databaseURL)
	assert.Equal(t, "1.2.3", o.version)
	assert.Len(t, o.plans, 2)
}
