package notes

// Numbering maps a note key to its sequential reference.
type Numbering map[string]int

// Number assigns note references by folding over a pre-order traversal of
// tree, starting at start. The first visit of a note key takes the next
// number; later visits of the same key reuse it. The returned int is the next
// unused number, so callers can continue numbering on another statement.
func Number(tree Tree, start int) (Numbering, int) {
	if start < 1 {
		start = 1
	}
	return foldKeys(preorder(tree), Numbering{}, start)
}

func preorder(tree Tree) []string {
	keys := make([]string, 0)
	for _, class := range tree.Classes {
		for _, sub := range class.Subclasses {
			for _, note := range sub.Notes {
				keys = append(keys, note.Key)
			}
		}
	}
	return keys
}

func foldKeys(keys []string, acc Numbering, next int) (Numbering, int) {
	if len(keys) == 0 {
		return acc, next
	}
	if _, ok := acc[keys[0]]; !ok {
		acc[keys[0]] = next
		next++
	}
	return foldKeys(keys[1:], acc, next)
}
