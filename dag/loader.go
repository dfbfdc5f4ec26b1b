package dag

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.yaml.in/yaml/v3"
)

// ErrPipelineNotFound is returned by loaders that have no definition for a name.
var ErrPipelineNotFound = errors.New("dag: pipeline not found")

var pipelineExts = []string{".yaml", ".yml"}

// PipelineLoader resolves pipeline names, typically for includes.
type PipelineLoader interface {
	Load(name string) (*Pipeline, error)
}

// FilePipelineLoader looks pipelines up in a list of directories.
type FilePipelineLoader struct {
	dirs []string
}

// NewFilePipelineLoader searches dirs in order.
func NewFilePipelineLoader(dirs ...string) PipelineLoader {
	return &FilePipelineLoader{dirs: dirs}
}

// Load returns the first of <dir>/<name>.yaml, <dir>/<name>.yml or the same
// names one directory level down. A file that exists but does not parse is
// an error rather than a miss.
func (l *FilePipelineLoader) Load(name string) (*Pipeline, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("dag: invalid pipeline name %q", name)
	}
	for _, dir := range l.dirs {
		for _, path := range candidates(dir, name) {
			p, err := LoadPipelineFile(path)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return p, err
		}
	}
	return nil, fmt.Errorf("%w: %q in %s", ErrPipelineNotFound, name, strings.Join(l.dirs, ", "))
}

func candidates(dir, name string) []string {
	var paths []string
	for _, ext := range pipelineExts {
		paths = append(paths, filepath.Join(dir, name+ext))
	}
	for _, ext := range pipelineExts {
		nested, _ := filepath.Glob(filepath.Join(dir, "*", name+ext))
		paths = append(paths, nested...)
	}
	return paths
}

// LoadPipelineFile parses one pipeline file. The name defaults to the file
// name without extension.
func LoadPipelineFile(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return ParsePipeline(data, filepath.Dir(path), name)
}

// ParsePipeline decodes YAML pipeline source. dir anchors source globs.
func ParsePipeline(data []byte, dir, defaultName string) (*Pipeline, error) {
	p := &Pipeline{}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("dag: pipeline %s: %w", defaultName, err)
	}
	if p.Name == "" {
		p.Name = defaultName
	}
	p.dir = dir
	return p, nil
}

// ResolvePipeline expands includes and compiles the merged step set. The
// pipeline name and cache default are applied before opts.
func ResolvePipeline(p *Pipeline, loader PipelineLoader, opts ...CompileOption) (*Graph, error) {
	steps, err := ExpandPipeline(p, loader)
	if err != nil {
		return nil, err
	}
	caching, err := p.CacheDefault()
	if err != nil {
		return nil, err
	}
	base := []CompileOption{WithPipelineName(p.Name), WithPipelineCaching(caching)}
	return Compile(steps, append(base, opts...)...)
}

// ExpandPipeline returns the step specs of p preceded by those of its
// includes, depth first in include order. A pipeline reachable along two
// paths contributes its steps once; an include cycle is an error.
func ExpandPipeline(p *Pipeline, loader PipelineLoader) ([]StepSpec, error) {
	e := &expander{loader: loader, merged: make(map[string]bool)}
	if err := e.expand(p); err != nil {
		return nil, err
	}
	return e.steps, nil
}

type expander struct {
	loader PipelineLoader
	chain  []string
	merged map[string]bool
	steps  []StepSpec
}

func (e *expander) expand(p *Pipeline) error {
	if slices.Contains(e.chain, p.Name) {
		return fmt.Errorf("dag: circular include %s -> %s", strings.Join(e.chain, " -> "), p.Name)
	}
	e.chain = append(e.chain, p.Name)
	defer func() { e.chain = e.chain[:len(e.chain)-1] }()

	for _, name := range p.Includes {
		if e.merged[name] {
			continue
		}
		if e.loader == nil {
			return fmt.Errorf("dag: pipeline %q has includes but no loader", p.Name)
		}
		sub, err := e.loader.Load(name)
		if err != nil {
			return fmt.Errorf("dag: include %q of %q: %w", name, p.Name, err)
		}
		if err := e.expand(sub); err != nil {
			return err
		}
	}

	own, err := p.StepSpecs()
	if err != nil {
		return err
	}
	e.steps = append(e.steps, own...)
	e.merged[p.Name] = true
	return nil
}

