package tensor

import (
	"fmt"
)

// Backward runs reverse-mode differentiation from t, accumulating gradients
// into every reachable leaf tensor that requires gradients. The traversal
// stops at tensors that do not require gradients, so a Detach() anywhere in
// the graph cuts gradient flow at that point.
func (t *Tensor) Backward() error {
	if !t.requiresGrad {
		return fmt.Errorf("backward called on tensor that does not require gradients")
	}

	order := topologicalOrder(t)

	seed, err := Ones(t.Shape)
	if err != nil {
		return fmt.Errorf("failed to seed root gradient: %v", err)
	}

	gradTable := map[*Tensor]*Tensor{t: seed}

	// order is root-first: by the time a node is processed, all gradient
	// contributions flowing into it have been accumulated.
	for _, node := range order {
		grad, ok := gradTable[node]
		if !ok {
			continue
		}

		if node.creator == nil {
			// Leaf: accumulate into the persistent gradient.
			if node.grad == nil {
				clone, err := grad.Clone()
				if err != nil {
					return err
				}
				node.grad = clone
			} else {
				accumulated, err := Add(node.grad, grad)
				if err != nil {
					return fmt.Errorf("failed to accumulate leaf gradient: %v", err)
				}
				node.grad = accumulated
			}
			continue
		}

		inputGrads, err := node.creator.Backward(grad)
		if err != nil {
			return fmt.Errorf("backward pass failed: %v", err)
		}
		inputs := node.creator.Inputs()
		if len(inputGrads) != len(inputs) {
			return fmt.Errorf("operation returned %d gradients for %d inputs", len(inputGrads), len(inputs))
		}

		for i, input := range inputs {
			if !input.requiresGrad {
				continue
			}
			if existing, ok := gradTable[input]; ok {
				accumulated, err := Add(existing, inputGrads[i])
				if err != nil {
					return fmt.Errorf("failed to accumulate gradient: %v", err)
				}
				gradTable[input] = accumulated
			} else {
				gradTable[input] = inputGrads[i]
			}
		}
	}

	return nil
}

// topologicalOrder returns the autograd graph nodes reachable from root,
// ordered so that every node appears before all of its inputs.
func topologicalOrder(root *Tensor) []*Tensor {
	var order []*Tensor
	visited := make(map[*Tensor]bool)

	var visit func(node *Tensor)
	visit = func(node *Tensor) {
		if visited[node] || !node.requiresGrad {
			return
		}
		visited[node] = true
		if node.creator != nil {
			for _, input := range node.creator.Inputs() {
				visit(input)
			}
		}
		order = append(order, node)
	}
	visit(root)

	// Reverse post-order: root first, leaves last.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}
