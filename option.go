package framed

// options holds the configuration for a connection.
type options struct {
	logger         Logger
	maxMessageSize int // upper bound on a declared inbound payload length
}

// Option is a function that configures connection options.
type Option func(*options)

// Default configuration values.
const (
	// defaultMaxMessageSize is the default maximum size of a single inbound
	// payload (1MB). A peer declaring a larger length is refused before the
	// receive buffer is allocated.
	defaultMaxMessageSize = 1024 * 1024
)

// MaxMessageSizeOption returns an Option that sets the maximum inbound
// payload size in bytes. Messages declaring a larger payload fail with
// ErrMessageTooLarge.
func MaxMessageSizeOption(size int) Option {
	return func(o *options) {
		o.maxMessageSize = size
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default zerolog-backed logger writing to stderr is used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// checkOptions fills in default values for unset connection options.
func checkOptions(opts *options) {
	if opts.maxMessageSize <= 0 {
		opts.maxMessageSize = defaultMaxMessageSize
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
}

// serverOptions holds the configuration for a server.
type serverOptions struct {
	logger      Logger
	connOptions []Option

	syncDispatch   bool  // run handlers on the accept goroutine
	maxConcurrency int64 // bound on concurrently running handlers, 0 = unbounded
}

// ServerOption configures a Server.
type ServerOption func(*serverOptions)

// ServerLoggerOption sets the logger for the server.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// ServerConnOption sets connection options applied to every accepted
// connection before it is handed to the handler.
func ServerConnOption(opt ...Option) ServerOption {
	return func(o *serverOptions) {
		o.connOptions = append(o.connOptions, opt...)
	}
}

// SynchronousDispatchOption makes the server run each handler on the accept
// goroutine instead of spawning one goroutine per connection. No new
// connection is accepted until the current handler returns.
func SynchronousDispatchOption() ServerOption {
	return func(o *serverOptions) {
		o.syncDispatch = true
	}
}

// MaxConcurrentHandlersOption bounds the number of handlers running at the
// same time. When the bound is reached, the accept loop blocks until a
// handler finishes. Ignored when synchronous dispatch is enabled.
func MaxConcurrentHandlersOption(n int64) ServerOption {
	return func(o *serverOptions) {
		o.maxConcurrency = n
	}
}
