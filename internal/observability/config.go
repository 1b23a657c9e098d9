package observability

// Config captures opt-in observability toggles that wire into the server.
type Config struct {
	// EnablePprofTrace mounts the net/http/pprof handlers under /debug/pprof/.
	EnablePprofTrace bool
	// EnableTracing routes spans to the globally installed OpenTelemetry
	// tracer provider. When false every span is a no-op.
	EnableTracing bool
	// ServiceName names the instrumentation scope. Defaults to DefaultServiceName.
	ServiceName string
}

// DefaultServiceName is the instrumentation scope used when none is configured.
const DefaultServiceName = "fallguys"
