package config

import (
	"slices"
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"ADDR", "DATA_DIR", "CATALOG_DRIVER", "FILTER_MAX_WORKERS", "KAFKA_BROKERS", "KAFKA_TOPIC"} {
		t.Setenv(k, "")
	}
	c := FromEnv()
	if c.Addr != ":8090" || c.DataDir != "data" || c.CatalogDriver != CatalogStatic {
		t.Fatalf("unexpected defaults %+v", c)
	}
	if c.FilterMaxWorkers != 8 || c.FilterTimeout != 30*time.Second {
		t.Fatalf("filter defaults %d %v", c.FilterMaxWorkers, c.FilterTimeout)
	}
	if c.LayerUpdates.Topic != "layer-updates" || !slices.Equal(c.LayerUpdates.Brokers, []string{"localhost:9092"}) {
		t.Fatalf("kafka defaults %+v", c.LayerUpdates)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("CATALOG_DRIVER", "Redis")
	t.Setenv("FILTER_MAX_WORKERS", "3")
	t.Setenv("FILTER_TIMEOUT", "750ms")
	t.Setenv("LAYER_UPDATES_ENABLED", "yes")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("CONVERSION_MEMO_SIZE", "not-a-number")

	c := FromEnv()
	if c.CatalogDriver != CatalogRedis || c.FilterMaxWorkers != 3 || c.FilterTimeout != 750*time.Millisecond {
		t.Fatalf("overrides not applied: %+v", c)
	}
	if !c.LayerUpdates.Enabled || !slices.Equal(c.LayerUpdates.Brokers, []string{"k1:9092", "k2:9092"}) {
		t.Fatalf("layer updates %+v", c.LayerUpdates)
	}
	if c.ConversionMemoSize != 4096 {
		t.Fatalf("bad int should fall back to default, got %d", c.ConversionMemoSize)
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	c := Config{CatalogDriver: "etcd", FilterMaxWorkers: 0, FilterTimeout: time.Second}
	if err := c.Validate(); err == nil {
		t.Fatal("expected validation errors")
	}
}
