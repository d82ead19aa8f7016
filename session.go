package spawn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cryguy/spawn/internal/codegen"
	"github.com/cryguy/spawn/internal/core"
	"github.com/cryguy/spawn/internal/store"
	"github.com/cryguy/spawn/internal/transform"
)

// runtimeAsset is the file name the runtime module is emitted under.
const runtimeAsset = "__spawn.js"

// Session owns the state of one build: the generated programs and the
// addresses they are served under. Sessions never share state, so builds
// running side by side in one process cannot see each other's programs.
// A Session is safe for concurrent use.
type Session struct {
	cfg   Config
	log   *zap.Logger
	store store.ArtifactStore

	mu    sync.RWMutex
	files map[string][]string // module id -> hashes generated from it
	owned bool                // store was opened by the session
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the logger. If not set, the session logs nothing.
func WithLogger(log *zap.Logger) SessionOption {
	return func(s *Session) {
		s.log = log.With(zap.String("svc", "spawn/session"))
	}
}

// WithStore sets the artifact store. The session does not close a store
// it was given.
func WithStore(st ArtifactStore) SessionOption {
	return func(s *Session) {
		s.store = st
	}
}

// NewSession starts a build session. Zero config fields take their
// defaults. When Build.CacheDB is set and no store is given, artifacts are
// kept in that SQLite database.
func NewSession(cfg Config, opts ...SessionOption) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		cfg:   cfg.WithDefaults(),
		log:   zap.NewNop(),
		files: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		if s.cfg.Build.CacheDB != "" {
			db, err := store.OpenSQLite(s.cfg.Build.CacheDB)
			if err != nil {
				return nil, err
			}
			s.store = db
		} else {
			s.store = store.NewMemory()
		}
		s.owned = true
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Session) Config() Config { return s.cfg }

// Store returns the artifact store backing the session.
func (s *Session) Store() ArtifactStore { return s.store }

// TransformResult is the rewritten module and what was generated for it.
type TransformResult struct {
	Code     string
	Sites    []Site
	Programs []*Program
}

// Transform rewrites every spawn call site in code, the source of module
// id, and registers the generated programs. It returns nil and no error
// when id is not a script module or code does not use spawn.
func (s *Session) Transform(code, id string) (*TransformResult, error) {
	out, err := transform.File(code, id, transform.Options{
		ImportSource:     s.cfg.Build.ImportSource,
		RuntimeSpecifier: s.cfg.Build.RuntimeSpecifier,
		Protocol:         s.cfg.Build.Protocol,
		Aliases:          s.cfg.Build.Aliases,
		Address:          s.Address,
	})
	if err != nil {
		s.log.Debug("transform failed", zap.String("file", id), zap.Error(err))
		return nil, err
	}
	if out == nil {
		return nil, nil
	}

	ctx := context.Background()
	hashes := make([]string, 0, len(out.Sites))
	for _, site := range out.Sites {
		if err := s.store.PutProgram(ctx, site.Program); err != nil {
			return nil, &core.TransformError{File: id, Err: err}
		}
		hashes = append(hashes, site.Program.Hash)
		s.log.Debug("spawn call site rewritten",
			zap.String("file", id),
			zap.String("hash", site.Program.Hash),
			zap.Strings("captures", site.Captures),
			zap.Strings("modules", site.Modules))
	}
	s.mu.Lock()
	s.files[codegen.StripQuery(id)] = hashes
	s.mu.Unlock()

	return &TransformResult{Code: out.Code, Sites: out.Sites, Programs: out.Programs()}, nil
}

// Address returns the address a program hash is served under: a virtual
// path in development, a bare asset name in production.
func (s *Session) Address(hash string) string {
	if s.cfg.Build.Mode == ModeProduction {
		return codegen.FileName(hash)
	}
	return core.VirtualPrefix + codegen.FileName(hash)
}

// hashOf extracts the program hash from an address or returns the input
// when it already is a bare hash.
func hashOf(address string) (string, bool) {
	name := strings.TrimPrefix(address, core.VirtualPrefix)
	name = filepath.Base(name)
	if strings.HasPrefix(name, "__worker__") && strings.HasSuffix(name, ".js") {
		name = strings.TrimSuffix(strings.TrimPrefix(name, "__worker__"), ".js")
	}
	if len(name) != codegen.HashLen {
		return "", false
	}
	return name, true
}

// ResolveID reports whether id names a module the session serves and
// returns its canonical id.
func (s *Session) ResolveID(id string) (string, bool) {
	switch id {
	case s.cfg.Build.RuntimeSpecifier, s.cfg.Build.ImportSource:
		return id, true
	}
	if _, err := s.Program(id); err == nil {
		return id, true
	}
	return "", false
}

// Load returns the source of a module the session serves: the runtime
// module, the import source stub, or a generated program.
func (s *Session) Load(id string) (string, bool) {
	switch id {
	case s.cfg.Build.RuntimeSpecifier:
		return codegen.RuntimeModule(s.cfg.Build.Protocol), true
	case s.cfg.Build.ImportSource:
		return codegen.StubModule(s.cfg.Build.ImportSource), true
	}
	p, err := s.Program(id)
	if err != nil {
		return "", false
	}
	return p.Source, true
}

// Program returns a registered program by address or hash.
func (s *Session) Program(addressOrHash string) (*Program, error) {
	hash, ok := hashOf(addressOrHash)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProgram, addressOrHash)
	}
	p, err := s.store.Program(context.Background(), hash)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProgram, addressOrHash)
	}
	return p, err
}

// Programs returns every registered program, sorted by hash.
func (s *Session) Programs() ([]*Program, error) {
	return s.store.Programs(context.Background())
}

// ProgramsFor returns the hashes generated by the last transform of id.
func (s *Session) ProgramsFor(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.files[codegen.StripQuery(id)]...)
}

// Asset is one emitted file.
type Asset struct {
	Name       string // path relative to the output directory
	Size       int
	Compressed string // path of the .br sibling, if written
}

// Emit writes every program, bundled, and the runtime module under
// dir/AssetsDir. Files are written concurrently. With Precompress set
// each file gets a brotli-compressed .br sibling.
func (s *Session) Emit(ctx context.Context, dir string) ([]Asset, error) {
	progs, err := s.Programs()
	if err != nil {
		return nil, err
	}
	outDir := filepath.Join(dir, s.cfg.Build.AssetsDir)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("creating assets directory: %w", err)
	}

	assets := make([]Asset, len(progs)+1)
	g, ctx := errgroup.WithContext(ctx)
	for i, p := range progs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			script, err := s.bundled(ctx, p)
			if err != nil {
				return err
			}
			a, err := s.writeAsset(outDir, codegen.FileName(p.Hash), script)
			if err != nil {
				return err
			}
			assets[i] = a
			return nil
		})
	}
	g.Go(func() error {
		a, err := s.writeAsset(outDir, runtimeAsset, codegen.RuntimeModule(s.cfg.Build.Protocol))
		if err != nil {
			return err
		}
		assets[len(progs)] = a
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	s.log.Debug("assets emitted", zap.String("dir", outDir), zap.Int("programs", len(progs)))
	return assets, nil
}

// bundled returns the bundled script of p, from the store when cached.
func (s *Session) bundled(ctx context.Context, p *Program) (string, error) {
	if script, err := s.store.Script(ctx, p.Hash); err == nil {
		return script, nil
	}
	script, err := codegen.Bundle(p, codegen.BundleOptions{Aliases: s.cfg.Build.Aliases})
	if err != nil {
		return "", err
	}
	if err := s.store.PutScript(ctx, p.Hash, script); err != nil {
		return "", err
	}
	return script, nil
}

func (s *Session) writeAsset(outDir, name, content string) (Asset, error) {
	a := Asset{Name: filepath.Join(s.cfg.Build.AssetsDir, name), Size: len(content)}
	path := filepath.Join(outDir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return Asset{}, fmt.Errorf("writing %s: %w", name, err)
	}
	if !s.cfg.Build.Precompress {
		return a, nil
	}
	if err := writeBrotli(path+".br", content); err != nil {
		return Asset{}, err
	}
	a.Compressed = a.Name + ".br"
	return a, nil
}

func writeBrotli(path, content string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	defer func() { err = multierr.Append(err, f.Close()) }()

	w := brotli.NewWriterLevel(f, brotli.BestCompression)
	if _, err := w.Write([]byte(content)); err != nil {
		return multierr.Append(fmt.Errorf("compressing %s: %w", filepath.Base(path), err), w.Close())
	}
	return w.Close()
}

// Close releases the session's store if the session opened it.
func (s *Session) Close() error {
	var err error
	if s.owned {
		err = multierr.Append(err, s.store.Close())
	}
	s.mu.Lock()
	s.files = make(map[string][]string)
	s.mu.Unlock()
	return err
}
