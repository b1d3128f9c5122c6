package engine

// Value is anything that can sit on the evaluation stack:
//
//	nil                null reference
//	int64              integers and booleans (ldc.i4, ceq, cgt.un)
//	string             System.String
//	*Object            instance of a universe type
//	*Boxed             boxed value type
//	*Ref               managed pointer (ldloca, ldflda, by-ref args)
//	*Task              System.Threading.Tasks.Task
//	*Builder           async method builder
//	*ManagedException  exception instance
type Value = any

// Object is an instance of a type defined in the universe.
type Object struct {
	Type   string
	Fields map[string]Value
}

// NewObject creates an instance with no fields set.
func NewObject(typeName string) *Object {
	return &Object{Type: typeName, Fields: make(map[string]Value)}
}

// Boxed is a value type moved to the heap by box.
type Boxed struct {
	Type  string
	Value Value
}

// Ref is a managed pointer to a storage location.
type Ref struct {
	load  func() Value
	store func(Value)
}

// NewRef returns a pointer to a fresh cell holding v. Tests pass one for
// each out or ref argument and read it back after the call.
func NewRef(v Value) *Ref {
	cell := v
	return &Ref{
		load:  func() Value { return cell },
		store: func(nv Value) { cell = nv },
	}
}

// Load reads the location.
func (r *Ref) Load() Value { return r.load() }

// Store writes the location.
func (r *Ref) Store(v Value) { r.store(v) }

func fieldRef(obj *Object, name string) *Ref {
	return &Ref{
		load:  func() Value { return obj.Fields[name] },
		store: func(v Value) { obj.Fields[name] = v },
	}
}

// TaskStatus is the state of a Task.
type TaskStatus int

const (
	TaskRunning TaskStatus = iota
	TaskCompleted
	TaskFaulted
)

func (s TaskStatus) String() string {
	switch s {
	case TaskCompleted:
		return "RanToCompletion"
	case TaskFaulted:
		return "Faulted"
	default:
		return "Running"
	}
}

// Task is the result of an async method.
type Task struct {
	Status    TaskStatus
	Result    Value
	Exception *ManagedException
}

// IsFaulted reports whether the task completed with an exception.
func (t *Task) IsFaulted() bool { return t.Status == TaskFaulted }

// Await returns the task's result or its exception.
func (t *Task) Await() (Value, error) {
	switch t.Status {
	case TaskCompleted:
		return t.Result, nil
	case TaskFaulted:
		return nil, t.Exception
	default:
		return nil, newRuntimeError(ErrCodeBadProgram, "", -1, "task never completed")
	}
}

// Builder is the async method builder a state machine reports through.
type Builder struct {
	Task *Task
}

// truthy implements brtrue: null and zero are false.
func truthy(v Value) bool {
	switch x := v.(type) {
	case nil:
		return false
	case int64:
		return x != 0
	case *Boxed:
		return x != nil
	default:
		return true
	}
}

func equal(a, b Value) bool {
	ai, aok := a.(int64)
	bi, bok := b.(int64)
	if aok && bok {
		return ai == bi
	}
	if aok || bok {
		return false
	}
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		return ok && as == bs
	}
	return a == b
}

func boolValue(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
