package modelcache

import (
	"context"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/technosupport/intellioptics/internal/ioerrors"
)

// ONNXSession wraps an onnxruntime_go dynamic session. Run is serialized
// with an internal mutex: the ONNX Runtime C API does not document
// concurrent Run safety on a shared session for every execution
// provider, so the dispatcher assumption in spec.md §4.6 ("at most one
// inference at a time per session unless the runtime documents
// otherwise") is enforced here rather than left to chance.
type ONNXSession struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	inputs  []string
	outputs []string
}

// LoadONNXSession is a modelcache.Loader backed by onnxruntime_go.
func LoadONNXSession(ctx context.Context, key Key, artifactPath string) (Session, error) {
	inputNames, outputNames, err := ort.GetInputOutputInfo(artifactPath)
	if err != nil {
		return nil, ioerrors.New(ioerrors.EConfigMissingModel, "modelcache.LoadONNXSession", "failed to introspect model I/O", err)
	}

	var inNames, outNames []string
	for _, i := range inputNames {
		inNames = append(inNames, i.Name)
	}
	for _, o := range outputNames {
		outNames = append(outNames, o.Name)
	}

	sess, err := ort.NewDynamicAdvancedSession(artifactPath, inNames, outNames, nil)
	if err != nil {
		return nil, ioerrors.New(ioerrors.EConfigMissingModel, "modelcache.LoadONNXSession", "failed to create session", err)
	}

	return &ONNXSession{session: sess, inputs: inNames, outputs: outNames}, nil
}

// Run executes the session on a single (1,3,H,W) float32 input tensor
// and returns the first output tensor's shape and data.
func (s *ONNXSession) Run(chw []float32, h, w int) (shape []int64, data []float32, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inputShape := ort.NewShape(1, 3, int64(h), int64(w))
	inputTensor, err := ort.NewTensor(inputShape, chw)
	if err != nil {
		return nil, nil, ioerrors.New(ioerrors.EBadModelOutput, "ONNXSession.Run", "failed to build input tensor", err)
	}
	defer inputTensor.Destroy()

	outputs := make([]ort.Value, len(s.outputs))
	if err := s.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, nil, ioerrors.New(ioerrors.EBadModelOutput, "ONNXSession.Run", "inference run failed", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	if len(outputs) == 0 {
		return nil, nil, ioerrors.New(ioerrors.EBadModelOutput, "ONNXSession.Run", "model produced no outputs", nil)
	}

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, nil, ioerrors.New(ioerrors.EBadModelOutput, "ONNXSession.Run", "output tensor is not float32", nil)
	}

	shapeOut := out.GetShape()
	dataOut := out.GetData()
	copied := make([]float32, len(dataOut))
	copy(copied, dataOut)
	return []int64(shapeOut), copied, nil
}

func (s *ONNXSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Destroy()
}

// InitRuntime must be called once per process before any session is
// loaded, and ShutdownRuntime on process exit.
func InitRuntime(sharedLibPath string) error {
	if sharedLibPath != "" {
		ort.SetSharedLibraryPath(sharedLibPath)
	}
	return ort.InitializeEnvironment()
}

func ShutdownRuntime() error {
	return ort.DestroyEnvironment()
}
