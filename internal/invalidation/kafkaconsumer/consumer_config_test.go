package kafkaconsumer

import (
	"testing"

	"github.com/mohammed-shakir/nearby-search/internal/core/config"
)

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.InvalidationCfg{
		Enabled: true, Topic: "spatial-invalidation", Brokers: "k1:9092, k2:9092,", GroupID: "nearby",
	})
	if len(cfg.Brokers) != 2 || cfg.Brokers[1] != "k2:9092" {
		t.Fatalf("brokers = %v", cfg.Brokers)
	}
	if cfg.Topic != "spatial-invalidation" || cfg.GroupID != "nearby" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.SessionTimeout <= cfg.Heartbeat || cfg.RetryBackoff <= 0 {
		t.Fatalf("timeouts = %+v", cfg)
	}
}
