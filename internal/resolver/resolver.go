// Package resolver inlines cross-file $ref links of a multi-file OpenAPI
// description into one self-contained document.
//
// Every object of the form {"$ref": "<file>#/<keys>"} is replaced by a copy
// of the object it points at, annotated with four reserved keys:
//
//	$ref   the canonical reference string
//	$file  the canonical path of the target file
//	$keys  the key path inside the target file
//	$name  the last key of the path
//
// References inside an expanded fragment are relative to the file that
// fragment came from. A reference that is already being expanded further up
// the current expansion path is a cycle and fails resolution.
package resolver

import (
	"context"
	"strings"

	"github.com/conneroisu/pig/internal/document"
	pigerrors "github.com/conneroisu/pig/internal/errors"
	"github.com/conneroisu/pig/internal/logging"
)

// Reserved annotation keys injected into every expanded reference object.
const (
	KeyRef  = "$ref"
	KeyFile = "$file"
	KeyKeys = "$keys"
	KeyName = "$name"
)

// ReservedKeys lists the annotation keys in the order they are appended.
var ReservedKeys = []string{KeyRef, KeyFile, KeyKeys, KeyName}

// Result is the outcome of one resolution session.
type Result struct {
	// Document is the fully expanded root document. It is nil when
	// resolution failed.
	Document *document.Node
	// Dependencies holds the canonical path of every file the session
	// attempted to load, sorted. On failure it covers the loads attempted
	// before the error.
	Dependencies []string
}

// Resolver resolves one schema root.
type Resolver struct {
	root     string
	validate bool
	logger   logging.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used for debug output.
func WithLogger(logger logging.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger.WithComponent("resolver")
		}
	}
}

// WithValidation toggles OpenAPI validation of loaded files. It is on by
// default; turning it off resolves arbitrary YAML or JSON documents.
func WithValidation(enabled bool) Option {
	return func(r *Resolver) {
		r.validate = enabled
	}
}

// New creates a resolver for the schema root file.
func New(root string, opts ...Option) *Resolver {
	r := &Resolver{root: root, validate: true, logger: logging.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve runs one resolution session with a fresh cache. The returned
// Result is non-nil even on error so that callers can watch the files that
// were involved.
func (r *Resolver) Resolve(ctx context.Context) (*Result, error) {
	perf := logging.StartOperation(r.logger, "resolve", "root", r.root)

	cache, err := NewCache(r.root, r.validate, r.logger)
	if err != nil {
		perf.EndWithError(ctx, err)
		return &Result{}, err
	}

	s := &session{ctx: ctx, cache: cache, logger: r.logger}
	doc, err := s.run()
	result := &Result{Document: doc, Dependencies: cache.Files()}
	if err != nil {
		perf.EndWithError(ctx, err)
		return result, err
	}

	perf.End(ctx, "files", cache.Len())
	return result, nil
}

// Resolve is a convenience wrapper around New(root).Resolve.
func Resolve(ctx context.Context, root string, opts ...Option) (*Result, error) {
	return New(root, opts...).Resolve(ctx)
}

// session holds the state of one Resolve call: the document cache and the
// stack of references currently being expanded.
type session struct {
	ctx    context.Context
	cache  *Cache
	stack  []Reference
	logger logging.Logger
}

func (s *session) run() (*document.Node, error) {
	root, err := s.cache.Load(s.ctx, s.cache.Root())
	if err != nil {
		return nil, err
	}
	return s.resolve(root)
}

// resolve rebuilds n bottom-up with every reference node expanded. Cached
// documents are never modified; scalars are shared with the cache.
func (s *session) resolve(n *document.Node) (*document.Node, error) {
	switch n.Kind {
	case document.SequenceKind:
		items := make([]*document.Node, len(n.Items))
		for i, item := range n.Items {
			resolved, err := s.resolve(item)
			if err != nil {
				return nil, err
			}
			items[i] = resolved
		}
		return document.Seq(items...), nil

	case document.MappingKind:
		if n.Has(KeyRef) {
			return s.expand(n)
		}
		out := document.Map()
		for _, key := range n.Keys() {
			value, _ := n.Get(key)
			resolved, err := s.resolve(value)
			if err != nil {
				return nil, err
			}
			out.Set(key, resolved)
		}
		return out, nil

	default:
		return n, nil
	}
}

// currentFile is the file that relative references are resolved against:
// the origin of the innermost fragment being expanded, or the root.
func (s *session) currentFile() string {
	if len(s.stack) == 0 {
		return s.cache.Root()
	}
	return s.stack[len(s.stack)-1].File
}

func (s *session) chain(last Reference) []string {
	chain := make([]string, 0, len(s.stack)+1)
	for _, ref := range s.stack {
		chain = append(chain, ref.String())
	}
	return append(chain, last.String())
}

func (s *session) expand(node *document.Node) (*document.Node, error) {
	current := s.currentFile()

	if node.Len() != 1 {
		var extra []string
		for _, key := range node.Keys() {
			if key != KeyRef {
				extra = append(extra, key)
			}
		}
		return nil, pigerrors.NewReferenceError(
			pigerrors.ErrCodeRefInvalidObject,
			"invalid $ref object: contains more keys ("+strings.Join(extra, ", ")+")",
		).WithLocation(current)
	}

	raw, _ := node.Get(KeyRef)
	if raw.Kind != document.StringKind {
		return nil, pigerrors.NewReferenceError(
			pigerrors.ErrCodeRefNotString,
			"$ref is not a string but a "+raw.Kind.String(),
		).WithLocation(current)
	}

	ref, err := ParseReference(current, raw.String)
	if err != nil {
		return nil, err
	}

	for _, active := range s.stack {
		if active.Equal(ref) {
			return nil, pigerrors.NewReferenceError(
				pigerrors.ErrCodeRefCycle,
				"circular reference detected",
			).WithChain(s.chain(ref))
		}
	}

	doc, err := s.cache.Load(s.ctx, ref.File)
	if err != nil {
		return nil, err
	}

	target := doc
	for i, key := range ref.Keys {
		next, ok := target.Child(key)
		if !ok {
			err := pigerrors.NewReferenceError(
				pigerrors.ErrCodeRefNotFound,
				"$ref not found",
			).WithLocation(ref.File, ref.Keys[:i+1]...).WithChain(s.chain(ref))
			if target.IsMapping() {
				err = err.WithContext(pigerrors.ContextAvailable, target.Keys())
			}
			return nil, err
		}
		target = next
	}

	s.logger.Debug(s.ctx, "Expanding reference", "ref", ref.String(), "depth", len(s.stack)+1)

	s.stack = append(s.stack, ref)
	resolved, err := s.resolve(target)
	s.stack = s.stack[:len(s.stack)-1]
	if err != nil {
		return nil, err
	}

	if !resolved.IsMapping() {
		return nil, pigerrors.NewReferenceError(
			pigerrors.ErrCodeRefNotObject,
			"$ref does not resolve to an object but to a "+resolved.Kind.String(),
		).WithChain(s.chain(ref))
	}

	// A target that is itself a bare reference is an alias: its expansion
	// carries the inner annotation, which the outer one replaces. Any other
	// target must not define the reserved keys on its own.
	if isReferenceNode(target) {
		for _, key := range ReservedKeys {
			resolved.Fields.Delete(key)
		}
	} else {
		for _, key := range target.Keys() {
			if isReserved(key) {
				return nil, pigerrors.NewReferenceError(
					pigerrors.ErrCodeRefReservedKey,
					"reference target already contains reserved key "+key,
				).WithChain(s.chain(ref))
			}
		}
	}

	annotate(resolved, ref)
	return resolved, nil
}

func annotate(n *document.Node, ref Reference) {
	n.Set(KeyRef, document.Str(ref.String()))
	n.Set(KeyFile, document.Str(ref.File))
	n.Set(KeyKeys, document.Strings(ref.Keys))
	n.Set(KeyName, document.Str(ref.Name()))
}

func isReferenceNode(n *document.Node) bool {
	return n.IsMapping() && n.Len() == 1 && n.Has(KeyRef)
}

func isReserved(key string) bool {
	for _, reserved := range ReservedKeys {
		if key == reserved {
			return true
		}
	}
	return false
}
