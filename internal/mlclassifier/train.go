package mlclassifier

import "gonum.org/v1/gonum/mat"

// TrainingSample is one labeled observation for Train: the feature bag
// Extract produced for a transaction, paired with the account a human
// ultimately confirmed for it.
type TrainingSample struct {
	Features FeatureVector
	Account  string
}

// Train fits c's weights by batch gradient descent on the multinomial
// softmax cross-entropy loss, the same objective Predict's softmax
// implies. Samples whose Account isn't in c.Accounts are skipped. This is
// the shadow-training step internal/retrainer's Run orchestrates (spec.md
// §4.12 step 2); Train itself holds no guardrail or promotion logic.
func Train(c *Classifier, samples []TrainingSample, epochs int, lr float64) {
	if epochs <= 0 {
		epochs = 20
	}
	if lr <= 0 {
		lr = 0.1
	}

	idx := make(map[string]int, len(c.Accounts))
	for i, a := range c.Accounts {
		idx[a] = i
	}

	labeled := make([]TrainingSample, 0, len(samples))
	for _, s := range samples {
		if _, ok := idx[s.Account]; ok {
			labeled = append(labeled, s)
		}
	}
	if len(labeled) == 0 {
		return
	}

	n := len(c.Accounts)
	d := c.Vocab.Len()

	for epoch := 0; epoch < epochs; epoch++ {
		grad := mat.NewDense(n, d, nil)
		for _, s := range labeled {
			target := idx[s.Account]
			dist := c.Predict(s.Features)
			x := c.Vocab.Dense(s.Features)
			for i, a := range c.Accounts {
				y := 0.0
				if i == target {
					y = 1.0
				}
				diff := dist[a] - y
				if diff == 0 {
					continue
				}
				for j, xv := range x {
					if xv == 0 {
						continue
					}
					grad.Set(i, j, grad.At(i, j)+diff*xv)
				}
			}
		}

		nSamples := float64(len(labeled))
		for i, a := range c.Accounts {
			row := mat.Row(nil, i, c.Weights)
			g := mat.Row(nil, i, grad)
			for j := range row {
				row[j] -= lr * g[j] / nSamples
			}
			c.SetWeights(a, row)
		}
	}
}
