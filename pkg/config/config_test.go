package config

import "testing"

func TestLoadFromReader_Defaults(t *testing.T) {
	cfg, err := LoadFromReader("yaml", []byte(""))
	if err != nil {
		t.Fatalf("LoadFromReader failed: %v", err)
	}

	if !cfg.Barrier.UseWrittenCardQueues {
		t.Error("Expected written card queues enabled by default")
	}
	if cfg.Barrier.WrittenCardBufferSize != 512 {
		t.Errorf("Expected default written card buffer size 512, got %d", cfg.Barrier.WrittenCardBufferSize)
	}
	if cfg.Heap.CardShift != 9 {
		t.Errorf("Expected default card shift 9, got %d", cfg.Heap.CardShift)
	}
	if cfg.Database.Type != "sqlite" {
		t.Errorf("Expected default database type sqlite, got %s", cfg.Database.Type)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config must validate: %v", err)
	}
}

func TestLoadFromReader_Overrides(t *testing.T) {
	yaml := []byte(`
barrier:
  written_card_filter: 2
  use_inline_written_card_buffers: true
refinement:
  max_workers: 8
`)
	cfg, err := LoadFromReader("yaml", yaml)
	if err != nil {
		t.Fatalf("LoadFromReader failed: %v", err)
	}
	if cfg.Barrier.WrittenCardFilter != 2 {
		t.Errorf("Expected filter 2, got %d", cfg.Barrier.WrittenCardFilter)
	}
	if !cfg.Barrier.UseInlineWrittenCardBuffers {
		t.Error("Expected inline buffers enabled")
	}
	if cfg.Refinement.MaxWorkers != 8 {
		t.Errorf("Expected 8 workers, got %d", cfg.Refinement.MaxWorkers)
	}
}

func TestValidate_Rejections(t *testing.T) {
	base := func() *Config {
		cfg, _ := LoadFromReader("yaml", []byte(""))
		return cfg
	}

	cfg := base()
	cfg.Barrier.WrittenCardFilter = 3
	if cfg.Validate() == nil {
		t.Error("Expected rejection of filter 3")
	}

	cfg = base()
	cfg.Barrier.UpdateBufferSize = 0
	if cfg.Validate() == nil {
		t.Error("Expected rejection of zero buffer size")
	}

	cfg = base()
	cfg.Heap.HeapBytes = cfg.Heap.RegionBytes + 1
	if cfg.Validate() == nil {
		t.Error("Expected rejection of non-multiple heap size")
	}

	cfg = base()
	cfg.Database.Type = "oracle"
	if cfg.Validate() == nil {
		t.Error("Expected rejection of unsupported database")
	}
}
