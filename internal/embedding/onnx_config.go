package embedding

// ONNXConfig configures an ONNXEmbedder.
type ONNXConfig struct {
	ModelPath  string
	Dimensions int
	MaxTokens  int
	// OutputName is the token-level output of the model.
	OutputName string
	Options
}

func (c ONNXConfig) withDefaults() ONNXConfig {
	if c.Dimensions <= 0 {
		c.Dimensions = 384
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 256
	}
	if c.OutputName == "" {
		c.OutputName = "last_hidden_state"
	}
	if c.Pooling == "" {
		c.Pooling = PoolingMean
	}
	return c
}

// pool reduces token embeddings (tokens x dims, row major) to one vector: the
// first token for CLS pooling, otherwise the mean over tokens whose mask is set.
func pool(hidden []float32, mask []int64, dims int, pooling string) []float32 {
	out := make([]float32, dims)
	if pooling == PoolingCLS {
		copy(out, hidden[:dims])
		return out
	}
	var n float32
	for t, m := range mask {
		if m == 0 {
			continue
		}
		row := hidden[t*dims : (t+1)*dims]
		for i, v := range row {
			out[i] += v
		}
		n++
	}
	if n > 0 {
		for i := range out {
			out[i] /= n
		}
	}
	return out
}
