package inference

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/dudu/magicmirror/internal/logging"
)

var (
	initialized bool
	initMu      sync.Mutex
)

// Initialize sets up the ONNX Runtime environment (call once at startup)
func Initialize() error {
	initMu.Lock()
	defer initMu.Unlock()

	if initialized {
		return nil
	}

	ort.SetSharedLibraryPath(sharedLibraryPath())

	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}

	initialized = true
	return nil
}

// Shutdown cleans up the ONNX Runtime environment
func Shutdown() error {
	initMu.Lock()
	defer initMu.Unlock()

	if !initialized {
		return nil
	}

	if err := ort.DestroyEnvironment(); err != nil {
		return err
	}

	initialized = false
	return nil
}

func sharedLibraryPath() string {
	if p := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); p != "" {
		return p
	}
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// Session wraps one ONNX Runtime inference session. Run is safe for
// concurrent callers; only inputs and outputs are per-call state.
type Session struct {
	name        string
	session     *ort.DynamicAdvancedSession
	inputNames  []string
	outputNames []string
	accelerated bool
}

// Run executes inference. Entries of outputs may be nil, in which case the
// runtime allocates them and the caller owns their destruction.
func (s *Session) Run(inputs []ort.Value, outputs []ort.Value) error {
	return s.session.Run(inputs, outputs)
}

// Name returns the logical model name the session was loaded under.
func (s *Session) Name() string {
	return s.name
}

// InputNames returns the model input names in declaration order.
func (s *Session) InputNames() []string {
	return s.inputNames
}

// OutputNames returns the model output names in declaration order.
func (s *Session) OutputNames() []string {
	return s.outputNames
}

// OutputCount returns the number of model outputs.
func (s *Session) OutputCount() int {
	return len(s.outputNames)
}

// Accelerated reports whether a hardware execution provider was attached.
func (s *Session) Accelerated() bool {
	return s.accelerated
}

// Destroy releases session resources
func (s *Session) Destroy() error {
	if s.session != nil {
		return s.session.Destroy()
	}
	return nil
}

// Manager loads models by logical name from a models directory and owns one
// session per name for the process lifetime. Sessions are shared read-only.
type Manager struct {
	modelsDir string

	mu       sync.Mutex
	sessions map[string]*Session
	raw      map[string][]byte
}

// NewManager creates a session manager rooted at modelsDir.
func NewManager(modelsDir string) (*Manager, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	return &Manager{
		modelsDir: modelsDir,
		sessions:  make(map[string]*Session),
		raw:       make(map[string][]byte),
	}, nil
}

// ModelBytes returns the raw model file contents, cached across calls.
func (m *Manager) ModelBytes(logicalName string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.modelBytesLocked(logicalName)
}

func (m *Manager) modelBytesLocked(logicalName string) ([]byte, error) {
	if data, ok := m.raw[logicalName]; ok {
		return data, nil
	}
	path := filepath.Join(m.modelsDir, logicalName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", logicalName, err)
	}
	m.raw[logicalName] = data
	return data, nil
}

// Load returns the session for a logical model name, creating it on first
// use. When preferAccelerator is set, the platform accelerator provider is
// tried first; provider failures fall through to CPU and never surface as
// errors.
func (m *Manager) Load(logicalName string, preferAccelerator bool) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[logicalName]; ok {
		return s, nil
	}

	data, err := m.modelBytesLocked(logicalName)
	if err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(data)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect model %s: %w", logicalName, err)
	}
	inputNames := make([]string, len(inputs))
	for i, info := range inputs {
		inputNames[i] = info.Name
	}
	outputNames := make([]string, len(outputs))
	for i, info := range outputs {
		outputNames[i] = info.Name
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	accelerated := false
	if preferAccelerator {
		accelerated = appendAccelerator(options, logicalName)
	}
	if !accelerated {
		if err := options.SetIntraOpNumThreads(cpuThreads()); err != nil {
			logging.Component("inference").WithField("model", logicalName).
				Warnf("failed to set intra-op threads: %v", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(data, inputNames, outputNames, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", logicalName, err)
	}

	s := &Session{
		name:        logicalName,
		session:     session,
		inputNames:  inputNames,
		outputNames: outputNames,
		accelerated: accelerated,
	}
	m.sessions[logicalName] = s
	return s, nil
}

// appendAccelerator attaches the platform accelerator provider, returning
// whether one was attached. Failures are logged and swallowed so the session
// falls through to the CPU provider.
func appendAccelerator(options *ort.SessionOptions, logicalName string) bool {
	log := logging.Component("inference").WithField("model", logicalName)

	switch runtime.GOOS {
	case "darwin":
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			log.Warnf("CoreML unavailable, falling back to CPU: %v", err)
			return false
		}
		log.Info("CoreML execution provider enabled")
		return true
	case "windows":
		if err := options.AppendExecutionProviderDirectML(0); err != nil {
			log.Warnf("DirectML unavailable, falling back to CPU: %v", err)
			return false
		}
		log.Info("DirectML execution provider enabled")
		return true
	default:
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			log.Warnf("CUDA unavailable, falling back to CPU: %v", err)
			return false
		}
		defer cudaOpts.Destroy()
		if err := options.AppendExecutionProviderCUDA(cudaOpts); err != nil {
			log.Warnf("CUDA unavailable, falling back to CPU: %v", err)
			return false
		}
		log.Info("CUDA execution provider enabled")
		return true
	}
}

func cpuThreads() int {
	n := runtime.NumCPU()
	if n > 4 {
		n = 4
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Close destroys every owned session.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for name, s := range m.sessions {
		if err := s.Destroy(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to destroy session %s: %w", name, err)
		}
		delete(m.sessions, name)
	}
	return firstErr
}

// CreateTensor creates a tensor with the given shape and data
func CreateTensor[T ort.TensorData](shape []int64, data []T) (*ort.Tensor[T], error) {
	return ort.NewTensor(ort.NewShape(shape...), data)
}

// CreateEmptyTensor creates an uninitialized tensor for output
func CreateEmptyTensor[T ort.TensorData](shape []int64) (*ort.Tensor[T], error) {
	size := int64(1)
	for _, dim := range shape {
		size *= dim
	}
	data := make([]T, size)
	return ort.NewTensor(ort.NewShape(shape...), data)
}

// TensorData extracts the float32 payload and shape from a runtime-allocated
// output value.
func TensorData(v ort.Value) ([]float32, []int64, error) {
	t, ok := v.(*ort.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("unexpected output tensor type %T", v)
	}
	return t.GetData(), t.GetShape(), nil
}
