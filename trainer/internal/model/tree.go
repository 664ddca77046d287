package model

// node is one tree vertex. Leaves have left == -1.
type node struct {
	feature   int
	bin       uint8   // go left when bucket <= bin
	threshold float64 // go left when x <= threshold
	left      int
	right     int
	value     float64
}

// tree is a regression tree over gradient statistics, stored flat.
type tree struct {
	nodes []node
}

func (t *tree) predict(x []float64) float64 {
	i := 0
	for t.nodes[i].left >= 0 {
		n := &t.nodes[i]
		if x[n.feature] <= n.threshold {
			i = n.left
		} else {
			i = n.right
		}
	}
	return t.nodes[i].value
}

// predictBinned walks the tree for training row r using pre-binned columns.
func (t *tree) predictBinned(bins [][]uint8, r int) float64 {
	i := 0
	for t.nodes[i].left >= 0 {
		n := &t.nodes[i]
		if bins[n.feature][r] <= n.bin {
			i = n.left
		} else {
			i = n.right
		}
	}
	return t.nodes[i].value
}

// grower fits one tree to per-row gradients and hessians.
type grower struct {
	bins   [][]uint8
	binner *binner
	grad   []float64
	hess   []float64
	params Params
	gains  []float64 // accumulated split gain per feature
	tree   *tree
	histG  []float64
	histH  []float64
	histN  []int
}

type split struct {
	feature int
	bin     int
	gain    float64
}

func newGrower(bins [][]uint8, b *binner, grad, hess []float64, p Params, gains []float64) *grower {
	return &grower{
		bins:   bins,
		binner: b,
		grad:   grad,
		hess:   hess,
		params: p,
		gains:  gains,
		tree:   &tree{},
		histG:  make([]float64, 256),
		histH:  make([]float64, 256),
		histN:  make([]int, 256),
	}
}

// grow builds the subtree for rows and returns its node index.
func (g *grower) grow(rows []int, depth int) int {
	var G, H float64
	for _, r := range rows {
		G += g.grad[r]
		H += g.hess[r]
	}

	id := len(g.tree.nodes)
	g.tree.nodes = append(g.tree.nodes, node{left: -1, right: -1, value: g.leafValue(G, H)})

	if depth >= g.params.MaxDepth || len(rows) < 2*g.params.MinSamplesLeaf {
		return id
	}

	best, ok := g.bestSplit(rows, G, H)
	if !ok {
		return id
	}

	left := make([]int, 0, len(rows))
	right := make([]int, 0, len(rows))
	col := g.bins[best.feature]
	for _, r := range rows {
		if int(col[r]) <= best.bin {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}

	g.gains[best.feature] += best.gain
	l := g.grow(left, depth+1)
	rt := g.grow(right, depth+1)

	n := &g.tree.nodes[id]
	n.feature = best.feature
	n.bin = uint8(best.bin)
	n.threshold = g.binner.edges[best.feature][best.bin]
	n.left = l
	n.right = rt
	return id
}

// bestSplit scans the gradient histogram of every feature and returns the
// split with the largest second-order gain. Ties keep the lowest feature.
func (g *grower) bestSplit(rows []int, G, H float64) (split, bool) {
	lambda := g.params.L2
	parent := score(G, H, lambda)
	minLeaf := g.params.MinSamplesLeaf
	best := split{gain: 0}
	found := false

	for j, col := range g.bins {
		nb := g.binner.nbins(j)
		if nb < 2 {
			continue
		}
		hg, hh, hn := g.histG[:nb], g.histH[:nb], g.histN[:nb]
		for b := range hg {
			hg[b], hh[b], hn[b] = 0, 0, 0
		}
		for _, r := range rows {
			b := col[r]
			hg[b] += g.grad[r]
			hh[b] += g.hess[r]
			hn[b]++
		}

		var GL, HL float64
		NL := 0
		for b := 0; b < nb-1; b++ {
			GL += hg[b]
			HL += hh[b]
			NL += hn[b]
			NR := len(rows) - NL
			if NL < minLeaf {
				continue
			}
			if NR < minLeaf {
				break
			}
			gain := score(GL, HL, lambda) + score(G-GL, H-HL, lambda) - parent
			if gain > best.gain+1e-12 {
				best = split{feature: j, bin: b, gain: gain}
				found = true
			}
		}
	}
	return best, found
}

func (g *grower) leafValue(G, H float64) float64 {
	d := H + g.params.L2
	if d <= 0 {
		return 0
	}
	return -G / d
}

// score is the loss reduction contributed by a node with gradient sum G and
// hessian sum H.
func score(G, H, lambda float64) float64 {
	d := H + lambda
	if d <= 0 {
		return 0
	}
	return G * G / d
}
