package ledger

import (
	"maps"
	"slices"

	"github.com/roach88/deeds/internal/ir"
)

// Edges of the operation DAG live in the spent-by and read-by indices. The
// walks below never hold pointers between operations; opids are the keys.

// outputs returns how many destructible and immutable cells opid created.
// Unknown operations created none.
func (l *Ledger) outputs(opid ir.Opid) (int, int, error) {
	articles := l.stock.Articles()
	if opid == articles.ContractID.GenesisOpid() {
		g := articles.GenesisOperation()
		return len(g.DestructibleOut), len(g.ImmutableOut), nil
	}
	ok, err := l.stock.HasOperation(opid)
	if err != nil || !ok {
		return 0, 0, err
	}
	op, err := l.stock.Operation(opid)
	if err != nil {
		return 0, 0, err
	}
	return len(op.DestructibleOut), len(op.ImmutableOut), nil
}

// dependents returns the operations that spent or read an output of opid,
// sorted by id.
func (l *Ledger) dependents(opid ir.Opid, validOnly bool) ([]ir.Opid, error) {
	nOwned, nGlobal, err := l.outputs(opid)
	if err != nil {
		return nil, persistenceError(opid, "load operation", err)
	}
	found := make(map[ir.Opid]struct{})
	keep := func(dep ir.Opid) {
		if !validOnly || l.stock.IsValid(dep) {
			found[dep] = struct{}{}
		}
	}
	for i := 0; i < nOwned; i++ {
		spender, ok, err := l.stock.SpentBy(ir.NewCellAddr(opid, uint16(i)))
		if err != nil {
			return nil, persistenceError(opid, "load spending", err)
		}
		if ok {
			keep(spender)
		}
	}
	for i := 0; i < nGlobal; i++ {
		readers, err := l.stock.ReadBy(ir.NewCellAddr(opid, uint16(i)))
		if err != nil {
			return nil, persistenceError(opid, "load readers", err)
		}
		for _, r := range readers {
			keep(r)
		}
	}
	return slices.SortedFunc(maps.Keys(found), ir.Opid.Compare), nil
}

// descendants returns seeds plus everything reachable from them through
// spend and read edges.
func (l *Ledger) descendants(seeds []ir.Opid, validOnly bool) (map[ir.Opid]struct{}, error) {
	seen := make(map[ir.Opid]struct{}, len(seeds))
	queue := slices.Clone(seeds)
	for _, s := range seeds {
		seen[s] = struct{}{}
	}
	for len(queue) > 0 {
		opid := queue[0]
		queue = queue[1:]
		deps, err := l.dependents(opid, validOnly)
		if err != nil {
			return nil, err
		}
		for _, d := range deps {
			if _, ok := seen[d]; !ok {
				seen[d] = struct{}{}
				queue = append(queue, d)
			}
		}
	}
	return seen, nil
}

// dependentsFirst orders closure so that every operation follows all of
// its dependents: a depth-first post-order from the sorted seeds, children
// visited in id order.
func (l *Ledger) dependentsFirst(seeds []ir.Opid, closure map[ir.Opid]struct{}) ([]ir.Opid, error) {
	visited := make(map[ir.Opid]struct{}, len(closure))
	order := make([]ir.Opid, 0, len(closure))
	var visit func(ir.Opid) error
	visit = func(opid ir.Opid) error {
		if _, ok := visited[opid]; ok {
			return nil
		}
		visited[opid] = struct{}{}
		deps, err := l.dependents(opid, true)
		if err != nil {
			return err
		}
		for _, d := range deps {
			if _, in := closure[d]; in {
				if err := visit(d); err != nil {
					return err
				}
			}
		}
		order = append(order, opid)
		return nil
	}
	sorted := slices.Clone(seeds)
	slices.SortFunc(sorted, ir.Opid.Compare)
	for _, s := range sorted {
		if err := visit(s); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// parentsFirst orders set so that every operation follows the parents it
// shares the set with.
func (l *Ledger) parentsFirst(set map[ir.Opid]struct{}) ([]ir.Opid, error) {
	visited := make(map[ir.Opid]struct{}, len(set))
	order := make([]ir.Opid, 0, len(set))
	var visit func(ir.Opid) error
	visit = func(opid ir.Opid) error {
		if _, ok := visited[opid]; ok {
			return nil
		}
		visited[opid] = struct{}{}
		op, err := l.stock.Operation(opid)
		if err != nil {
			return persistenceError(opid, "load operation", err)
		}
		parents := op.Parents()
		slices.SortFunc(parents, ir.Opid.Compare)
		for _, p := range parents {
			if _, in := set[p]; in {
				if err := visit(p); err != nil {
					return err
				}
			}
		}
		order = append(order, opid)
		return nil
	}
	for _, opid := range slices.SortedFunc(maps.Keys(set), ir.Opid.Compare) {
		if err := visit(opid); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Ancestors returns the given operations and every stashed operation they
// transitively spend from or read, sorted by id. The genesis and unknown
// ids are left out.
func (l *Ledger) Ancestors(opids []ir.Opid) ([]ir.Opid, error) {
	seen := make(map[ir.Opid]struct{})
	queue := slices.Clone(opids)
	for len(queue) > 0 {
		opid := queue[0]
		queue = queue[1:]
		if _, ok := seen[opid]; ok {
			continue
		}
		ok, err := l.stock.HasOperation(opid)
		if err != nil {
			return nil, persistenceError(opid, "lookup operation", err)
		}
		if !ok {
			continue
		}
		seen[opid] = struct{}{}
		op, err := l.stock.Operation(opid)
		if err != nil {
			return nil, persistenceError(opid, "load operation", err)
		}
		queue = append(queue, op.Parents()...)
	}
	return slices.SortedFunc(maps.Keys(seen), ir.Opid.Compare), nil
}

// Descendants returns the given operations and every operation that
// transitively spends or reads their outputs, valid or not, sorted by id.
func (l *Ledger) Descendants(opids []ir.Opid) ([]ir.Opid, error) {
	set, err := l.descendants(opids, false)
	if err != nil {
		return nil, err
	}
	return slices.SortedFunc(maps.Keys(set), ir.Opid.Compare), nil
}
