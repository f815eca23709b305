package dispatchopts

import "fmt"

type OptionType uint8

const (
	TypeNonblocking OptionType = iota
	TypeReuseAddr
	TypeReusePort
	TypeNoDelay
	MaxOption
)

func (t OptionType) String() string {
	switch t {
	case TypeNonblocking:
		return "nonblocking"
	case TypeReuseAddr:
		return "reuse_addr"
	case TypeReusePort:
		return "reuse_port"
	case TypeNoDelay:
		return "no_delay"
	default:
		panic(fmt.Errorf("invalid option %d", t))
	}
}

// Option is a socket level setting applied to a file descriptor before it is
// bound, or right after it is accepted.
type Option interface {
	Type() OptionType
	Value() interface{}
}

type boolOption struct {
	t OptionType
	v bool
}

func (o *boolOption) Type() OptionType {
	return o.t
}

func (o *boolOption) Value() interface{} {
	return o.v
}

// Nonblocking makes reads, writes and accepts on the descriptor return
// ErrWouldBlock instead of blocking.
func Nonblocking(v bool) Option {
	return &boolOption{t: TypeNonblocking, v: v}
}

// ReuseAddr sets SO_REUSEADDR.
func ReuseAddr(v bool) Option {
	return &boolOption{t: TypeReuseAddr, v: v}
}

// ReusePort sets SO_REUSEPORT.
func ReusePort(v bool) Option {
	return &boolOption{t: TypeReusePort, v: v}
}

// NoDelay sets TCP_NODELAY.
func NoDelay(v bool) Option {
	return &boolOption{t: TypeNoDelay, v: v}
}

// AddOption replaces the option of the same type in opts, or appends it.
func AddOption(add Option, opts []Option) []Option {
	for i, cur := range opts {
		if cur.Type() == add.Type() {
			opts[i] = add
			return opts
		}
	}
	return append(opts, add)
}

// DelOption removes the first option of type del from opts.
func DelOption(del OptionType, opts []Option) []Option {
	for i := 0; i < len(opts); i++ {
		if opts[i].Type() == del {
			return append(opts[:i], opts[i+1:]...)
		}
	}
	return opts
}

// Lookup returns the last option of type t in opts.
func Lookup(t OptionType, opts []Option) (Option, bool) {
	var (
		found Option
		ok    bool
	)
	for _, opt := range opts {
		if opt.Type() == t {
			found, ok = opt, true
		}
	}
	return found, ok
}
