package objtree

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ActionRequest is the decoded form of an incoming dispatcher request: an
// action name plus whatever parameters that action needs, left as raw JSON
// since HandlerTable has no idea what shape any given action wants.
type ActionRequest struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ActionResponse is what a handler returns. Status follows ordinary HTTP
// status code conventions (200 ok, 403 access denied, 404 unknown action,
// 500 handler error) even though the HTTP binding itself is out of scope.
type ActionResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func okResponse(body json.RawMessage) ActionResponse  { return ActionResponse{Status: 200, Body: body} }
func errResponse(status int, format string, args ...any) ActionResponse {
	return ActionResponse{Status: status, Error: fmt.Sprintf(format, args...)}
}

// ConstHandler reads target without mutating it, the Go analogue of
// const_handlers[name] = fn(C, &T, request) from spec §6.
type ConstHandler[C any, T any] func(ctx C, target *T, req ActionRequest) ActionResponse

// MutHandler may mutate target (typically by opening and committing an
// editor itself), the analogue of mut_handlers[name] = fn(C, &mut T, request).
type MutHandler[C any, T any] func(ctx C, target *T, req ActionRequest) ActionResponse

// AccessPolicy is consulted before any handler runs; returning false yields
// a 403 regardless of whether the action exists.
type AccessPolicy[C any] func(ctx C, action string) bool

// HandlerTable is a per-node-type registry of named actions, resolved by
// Dispatch the way the external HTTP collaborator is expected to: missing
// or unknown action is 404, a failed access check is 403, mut_handlers take
// priority over const_handlers of the same name.
type HandlerTable[C any, T any] struct {
	constHandlers map[string]ConstHandler[C, T]
	mutHandlers   map[string]MutHandler[C, T]
	access        AccessPolicy[C]
}

// NewHandlerTable returns an empty table with no built-in handlers
// registered; callers that want the spec's default get/list behavior use
// NewRecordHandlerTable or NewContainerHandlerTable instead.
func NewHandlerTable[C any, T any]() *HandlerTable[C, T] {
	return &HandlerTable[C, T]{
		constHandlers: make(map[string]ConstHandler[C, T]),
		mutHandlers:   make(map[string]MutHandler[C, T]),
	}
}

func (t *HandlerTable[C, T]) RegisterConst(name string, h ConstHandler[C, T]) { t.constHandlers[name] = h }
func (t *HandlerTable[C, T]) RegisterMut(name string, h MutHandler[C, T])     { t.mutHandlers[name] = h }
func (t *HandlerTable[C, T]) SetAccessPolicy(p AccessPolicy[C])               { t.access = p }

// Dispatch resolves req.Action against this table and runs the matching
// handler, or returns the 404/403 per spec §6's external dispatcher contract.
func (t *HandlerTable[C, T]) Dispatch(ctx C, target *T, req ActionRequest) ActionResponse {
	if req.Action == "" {
		return errResponse(404, "objtree: missing action")
	}
	if t.access != nil && !t.access(ctx, req.Action) {
		return errResponse(403, "objtree: action %q not permitted", req.Action)
	}
	if h, ok := t.mutHandlers[req.Action]; ok {
		return h(ctx, target, req)
	}
	if h, ok := t.constHandlers[req.Action]; ok {
		return h(ctx, target, req)
	}
	return errResponse(404, "objtree: unknown action %q", req.Action)
}

// fieldPtr constrains T so that *T implements Field, the Go substitute for
// requiring a trait bound on a pointer-to-generic-parameter.
type fieldPtr[T any] interface {
	*T
	Field
}

// RegisterGetHandler adds the built-in "get" action (serialize target)
// that every record type registers by default per spec §6.
func RegisterGetHandler[C any, T any, PT fieldPtr[T]](t *HandlerTable[C, T]) {
	t.RegisterConst("get", func(ctx C, target *T, req ActionRequest) ActionResponse {
		raw, err := PT(target).serializeJSON()
		if err != nil {
			return errResponse(500, "objtree: get: %v", err)
		}
		return okResponse(raw)
	})
}

// NewRecordHandlerTable returns a HandlerTable for a record type with its
// built-in "get" handler already registered.
func NewRecordHandlerTable[C any, T any, PT fieldPtr[T]]() *HandlerTable[C, T] {
	t := NewHandlerTable[C, T]()
	RegisterGetHandler[C, T, PT](t)
	return t
}

type containerListItem struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// RegisterListHandler adds the built-in "list" action (serialize every
// element, sorted by key) that every container registers by default per
// spec §6.
func RegisterListHandler[C any, K comparable, V ContainerElem[K]](t *HandlerTable[C, Container[K, V]]) {
	t.RegisterConst("list", func(ctx C, target *Container[K, V], req ActionRequest) ActionResponse {
		items := make([]containerListItem, 0, target.Size())
		var walkErr error
		target.Each(func(k K, v V) bool {
			raw, err := v.serializeJSON()
			if err != nil {
				walkErr = err
				return false
			}
			items = append(items, containerListItem{Key: target.codec.Format(k), Value: raw})
			return true
		})
		if walkErr != nil {
			return errResponse(500, "objtree: list: %v", walkErr)
		}
		sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
		body, err := json.Marshal(items)
		if err != nil {
			return errResponse(500, "objtree: list: %v", err)
		}
		return okResponse(body)
	})
}

// NewContainerHandlerTable returns a HandlerTable for a Container[K,V] with
// its built-in "list" handler already registered.
func NewContainerHandlerTable[C any, K comparable, V ContainerElem[K]]() *HandlerTable[C, Container[K, V]] {
	t := NewHandlerTable[C, Container[K, V]]()
	RegisterListHandler[C, K, V](t)
	return t
}
