package metadata

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// ModelExt is the extension of shards the runtime loads.
const ModelExt = ".onnx"

// Paths locates the shard artifacts of one model.
type Paths struct {
	Dir    string
	Embed  string
	FFN    string
	LMHead string
}

// Chunk describes the artifacts of one chunk stage. Prefill is empty when
// the chunk is a single model serving both entry points.
type Chunk struct {
	Infer   string
	Prefill string
}

var chunkSuffix = regexp.MustCompile(`_chunk_\d+of\d+`)

// Normalize swaps compiled-package extensions for ModelExt so meta configs
// written for other runtimes resolve to loadable files.
func Normalize(path string) string {
	if path == "" {
		return ""
	}
	ext := filepath.Ext(path)
	switch strings.ToLower(ext) {
	case ".mlmodelc", ".mlpackage", "":
		return strings.TrimSuffix(path, ext) + ModelExt
	}
	return path
}

// ChunkPaths expands the FFN path into n chunk paths. An FFN path without a
// chunk suffix is used as-is when n is 1.
func (p Paths) ChunkPaths(n int) ([]Chunk, error) {
	if p.FFN == "" {
		return nil, errors.New("no ffn path")
	}
	if n < 1 {
		return nil, fmt.Errorf("invalid chunk count %d", n)
	}
	base := Normalize(p.FFN)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	hasSuffix := chunkSuffix.MatchString(stem)
	if !hasSuffix && n > 1 {
		stem += "_chunk_01of01"
		hasSuffix = true
	}

	out := make([]Chunk, n)
	for i := range out {
		name := stem
		if hasSuffix {
			name = chunkSuffix.ReplaceAllString(stem, fmt.Sprintf("_chunk_%02dof%02d", i+1, n))
		}
		out[i].Infer = name + ext
		if prefill := name + "_prefill" + ext; exists(prefill) {
			out[i].Prefill = prefill
		}
	}
	return out, nil
}

// Discover fills in any empty path by scanning dir for the conventional
// names (*embeddings*, *lm_head*, *FFN*).
func (p Paths) Discover() (Paths, error) {
	if p.Dir == "" {
		return p, nil
	}
	entries, err := os.ReadDir(p.Dir)
	if err != nil {
		return p, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ModelExt) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	pick := func(cur string, match func(lower string) bool) string {
		if cur != "" {
			return Normalize(cur)
		}
		for _, n := range names {
			if match(strings.ToLower(n)) {
				return filepath.Join(p.Dir, n)
			}
		}
		return ""
	}
	p.Embed = pick(p.Embed, func(n string) bool { return strings.Contains(n, "embeddings") })
	p.LMHead = pick(p.LMHead, func(n string) bool { return strings.Contains(n, "lm_head") })
	p.FFN = pick(p.FFN, func(n string) bool {
		return (strings.Contains(n, "ffn") || strings.Contains(n, "chunk")) && !strings.Contains(n, "_prefill")
	})

	var missing []string
	if p.Embed == "" {
		missing = append(missing, "embeddings")
	}
	if p.FFN == "" {
		missing = append(missing, "ffn")
	}
	if p.LMHead == "" {
		missing = append(missing, "lm_head")
	}
	if len(missing) > 0 {
		return p, fmt.Errorf("no %s shard found in %s", strings.Join(missing, ", "), p.Dir)
	}
	return p, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
