package training

import "math"

const (
	// DefaultAdamBeta1 は一次モーメントの減衰率
	DefaultAdamBeta1 = 0.9

	// DefaultAdamBeta2 は二次モーメントの減衰率
	DefaultAdamBeta2 = 0.999

	// DefaultAdamEpsilon はゼロ除算回避の微小値
	DefaultAdamEpsilon = 1e-8
)

// Adam は分類器ヘッドのパラメータのみを更新するオプティマイザ。
// 更新則:
//
//	m_t = beta1 * m_{t-1} + (1 - beta1) * grad
//	v_t = beta2 * v_{t-1} + (1 - beta2) * grad^2
//	param -= lr * (m_t / (1 - beta1^t)) / (sqrt(v_t / (1 - beta2^t)) + epsilon)
type Adam struct {
	beta1   float64
	beta2   float64
	epsilon float64

	mWeights [][]float64
	vWeights [][]float64
	mBias    []float64
	vBias    []float64
	t        int
}

// NewAdam は与えられたヘッドの形状に合わせたモーメントバッファを初期化する
func NewAdam(h *Head) *Adam {
	classes := len(h.classes)
	opt := &Adam{
		beta1:    DefaultAdamBeta1,
		beta2:    DefaultAdamBeta2,
		epsilon:  DefaultAdamEpsilon,
		mWeights: make([][]float64, classes),
		vWeights: make([][]float64, classes),
		mBias:    make([]float64, classes),
		vBias:    make([]float64, classes),
	}
	for c := 0; c < classes; c++ {
		opt.mWeights[c] = make([]float64, h.dim)
		opt.vWeights[c] = make([]float64, h.dim)
	}
	return opt
}

// Step は蓄積済みの勾配を使ってヘッドのパラメータを1ステップ更新する
func (opt *Adam) Step(h *Head, lr float64) {
	opt.t++

	// バイアス補正係数
	bias1 := 1.0 - math.Pow(opt.beta1, float64(opt.t))
	bias2 := 1.0 - math.Pow(opt.beta2, float64(opt.t))

	for c := range h.weights {
		for j := range h.weights[c] {
			grad := h.gradWeights[c][j]

			opt.mWeights[c][j] = opt.beta1*opt.mWeights[c][j] + (1.0-opt.beta1)*grad
			opt.vWeights[c][j] = opt.beta2*opt.vWeights[c][j] + (1.0-opt.beta2)*grad*grad

			mHat := opt.mWeights[c][j] / bias1
			vHat := opt.vWeights[c][j] / bias2

			h.weights[c][j] -= lr * mHat / (math.Sqrt(vHat) + opt.epsilon)
		}

		grad := h.gradBias[c]

		opt.mBias[c] = opt.beta1*opt.mBias[c] + (1.0-opt.beta1)*grad
		opt.vBias[c] = opt.beta2*opt.vBias[c] + (1.0-opt.beta2)*grad*grad

		mHat := opt.mBias[c] / bias1
		vHat := opt.vBias[c] / bias2

		h.bias[c] -= lr * mHat / (math.Sqrt(vHat) + opt.epsilon)
	}
}
