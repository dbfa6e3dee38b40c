package signal

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// FeatureCount is the width of the model's input vector.
const FeatureCount = 30

// ONNXPredictor runs a 3-class (buy/sell/neutral) softmax classifier through
// onnxruntime. Sessions are not safe for concurrent Run calls, so Predict is
// serialized with a mutex; evaluation cycles call it one symbol at a time
// anyway.
type ONNXPredictor struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

var ortInitOnce sync.Once

func initORT() error {
	var err error
	ortInitOnce.Do(func() {
		libPath := "/usr/lib/libonnxruntime.so"
		switch runtime.GOOS {
		case "windows":
			libPath = "onnxruntime.dll"
		case "darwin":
			libPath = "libonnxruntime.dylib"
		}
		ort.SetSharedLibraryPath(libPath)
		err = ort.InitializeEnvironment()
	})
	return err
}

// NewONNXPredictor loads the model at modelPath. The model takes a
// (1, FeatureCount) float32 input and produces a (1, 3) softmax over
// [buy, sell, neutral].
func NewONNXPredictor(modelPath string) (*ONNXPredictor, error) {
	if err := initORT(); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, FeatureCount), make([]float32, FeatureCount))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor}, nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create session for %s: %w", modelPath, err)
	}

	return &ONNXPredictor{session: session, input: inputTensor, output: outputTensor}, nil
}

func (p *ONNXPredictor) Predict(ctx context.Context, symbol string, features []float32) (Prediction, error) {
	noOpinion := Prediction{Direction: None, Confidence: 0}
	if len(features) != FeatureCount {
		return noOpinion, nil
	}
	if err := ctx.Err(); err != nil {
		return noOpinion, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	copy(p.input.GetData(), features)
	if err := p.session.Run(); err != nil {
		return noOpinion, fmt.Errorf("inference for %s: %w", symbol, err)
	}

	probs := p.output.GetData()
	argmax := 0
	for i := 1; i < 3 && i < len(probs); i++ {
		if probs[i] > probs[argmax] {
			argmax = i
		}
	}

	dir := None
	switch argmax {
	case 0:
		dir = Buy
	case 1:
		dir = Sell
	}
	if dir == None {
		return noOpinion, nil
	}
	return Prediction{Direction: dir, Confidence: float64(probs[argmax])}, nil
}

// Close releases the onnxruntime session and tensors.
func (p *ONNXPredictor) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		p.session.Destroy()
	}
	if p.input != nil {
		p.input.Destroy()
	}
	if p.output != nil {
		p.output.Destroy()
	}
}
