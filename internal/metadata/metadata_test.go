package metadata

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolvePrecedence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  Sources
		want Metadata
	}{
		{
			name: "defaults",
			src:  Sources{},
			want: Metadata{ContextLength: 512, StateLength: 512, BatchSize: 64, NumChunks: 4, SplitLMHead: 8},
		},
		{
			name: "name heuristic",
			src:  Sources{Name: "llama_ctx1024_lut6_chunk_01of02"},
			want: Metadata{ContextLength: 1024, StateLength: 1024, BatchSize: 64, LUTBits: 6, NumChunks: 2, SplitLMHead: 8},
		},
		{
			name: "embedded beats heuristic",
			src: Sources{
				Name:     "llama_ctx1024",
				Embedded: map[string]string{"anemll.context_length": "2048", "num_logits": "16"},
			},
			want: Metadata{ContextLength: 2048, StateLength: 2048, BatchSize: 64, NumChunks: 4, SplitLMHead: 16},
		},
		{
			name: "split_lm_head beats num_logits",
			src: Sources{
				Embedded: map[string]string{"split_lm_head": "2", "num_logits": "16"},
			},
			want: Metadata{ContextLength: 512, StateLength: 512, BatchSize: 64, NumChunks: 4, SplitLMHead: 2},
		},
		{
			name: "flags beat everything",
			src: Sources{
				Flags:    Overrides{ContextLength: 256, BatchSize: 32},
				Config:   Overrides{ContextLength: 1024, NumChunks: 2},
				Embedded: map[string]string{"context_length": "2048", "batch_size": "128"},
				Name:     "ctx4096",
			},
			want: Metadata{ContextLength: 256, StateLength: 256, BatchSize: 32, NumChunks: 2, SplitLMHead: 8},
		},
		{
			name: "explicit state length",
			src: Sources{
				Embedded: map[string]string{"state_length": "1024", "context_length": "512"},
			},
			want: Metadata{ContextLength: 512, StateLength: 1024, BatchSize: 64, NumChunks: 4, SplitLMHead: 8},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Resolve(tt.src)
			if got != tt.want {
				t.Fatalf("Resolve() = %+v, want %+v", got, tt.want)
			}
			if err := got.Validate(); err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
		})
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()
	bad := []Metadata{
		{ContextLength: 1, StateLength: 1, BatchSize: 1, NumChunks: 1, SplitLMHead: 1},
		{ContextLength: 512, StateLength: 256, BatchSize: 64, NumChunks: 1, SplitLMHead: 1},
		{ContextLength: 512, StateLength: 512, BatchSize: 0, NumChunks: 1, SplitLMHead: 1},
		{ContextLength: 512, StateLength: 512, BatchSize: 64, NumChunks: 0, SplitLMHead: 1},
	}
	for _, m := range bad {
		if err := m.Validate(); err == nil {
			t.Fatalf("Validate(%+v) expected error", m)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yml := `model_info:
  name: llama-test
  parameters:
    context_length: 1024
    batch_size: 32
    num_chunks: 2
    lut_ffn: 6
    num_logits: 16
    embeddings: llama_embeddings.mlmodelc
    ffn: llama_FFN_PF_lut6_chunk_01of02.mlmodelc
    lm_head: llama_lm_head_lut6.mlmodelc
`
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(yml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ModelInfo.Name != "llama-test" {
		t.Fatalf("name = %q", cfg.ModelInfo.Name)
	}
	o := cfg.Overrides()
	want := Overrides{ContextLength: 1024, BatchSize: 32, NumChunks: 2, LUTBits: 6, SplitLMHead: 16}
	if o != want {
		t.Fatalf("Overrides() = %+v, want %+v", o, want)
	}

	paths := cfg.Paths()
	wantPaths := Paths{
		Dir:    dir,
		Embed:  filepath.Join(dir, "llama_embeddings.onnx"),
		FFN:    filepath.Join(dir, "llama_FFN_PF_lut6_chunk_01of02.onnx"),
		LMHead: filepath.Join(dir, "llama_lm_head_lut6.onnx"),
	}
	if paths != wantPaths {
		t.Fatalf("Paths() = %+v, want %+v", paths, wantPaths)
	}

	// One chunk ships a prefill companion, the other does not.
	for _, name := range []string{
		"llama_FFN_PF_lut6_chunk_01of02.onnx",
		"llama_FFN_PF_lut6_chunk_01of02_prefill.onnx",
		"llama_FFN_PF_lut6_chunk_02of02.onnx",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	chunks, err := paths.ChunkPaths(o.NumChunks)
	if err != nil {
		t.Fatalf("ChunkPaths: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if got := filepath.Base(chunks[1].Infer); got != "llama_FFN_PF_lut6_chunk_02of02.onnx" {
		t.Fatalf("chunk 2 = %q", got)
	}
	if chunks[0].Prefill == "" || chunks[1].Prefill != "" {
		t.Fatalf("prefill companions = %q, %q", chunks[0].Prefill, chunks[1].Prefill)
	}
}

func TestReadSidecar(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	got, err := ReadSidecar(dir)
	if err != nil || len(got) != 0 {
		t.Fatalf("missing sidecar = %v, %v", got, err)
	}

	data := `{"context_length": 2048, "batch_size": "64", "quantized": true}`
	if err := os.WriteFile(filepath.Join(dir, SidecarFile), []byte(data), 0o644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}
	got, err = ReadSidecar(dir)
	if err != nil {
		t.Fatalf("ReadSidecar: %v", err)
	}
	if got["context_length"] != "2048" || got["batch_size"] != "64" || got["quantized"] != "true" {
		t.Fatalf("sidecar = %v", got)
	}
	merged := Merge(got, map[string]string{"batch_size": "32"})
	if m := Resolve(Sources{Embedded: merged}); m.ContextLength != 2048 || m.BatchSize != 32 {
		t.Fatalf("resolved = %+v", m)
	}
}

func TestDiscover(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for _, name := range []string{
		"qwen_embeddings.onnx",
		"qwen_FFN_PF_chunk_01of01.onnx",
		"qwen_FFN_PF_chunk_01of01_prefill.onnx",
		"qwen_lm_head.onnx",
		"notes.txt",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	p, err := Paths{Dir: dir}.Discover()
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if filepath.Base(p.FFN) != "qwen_FFN_PF_chunk_01of01.onnx" {
		t.Fatalf("ffn = %q", p.FFN)
	}
	if filepath.Base(p.LMHead) != "qwen_lm_head.onnx" {
		t.Fatalf("lm_head = %q", p.LMHead)
	}

	if _, err := (Paths{Dir: t.TempDir()}).Discover(); err == nil {
		t.Fatal("expected error for empty dir")
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"a/llama_lm_head.mlmodelc": "a/llama_lm_head.onnx",
		"llama.mlpackage":          "llama.onnx",
		"llama":                    "llama.onnx",
		"llama.onnx":               "llama.onnx",
		"":                         "",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
