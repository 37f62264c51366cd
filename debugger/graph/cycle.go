// Package graph 等待图上的环检测，线程死锁和异步任务死锁共用
package graph

import (
	"cmp"
	"slices"
)

// FindCycles 在有向图上做深度优先遍历，每遇到一条回边就记录一次当时的递归栈
// nodes 决定遍历顺序，edges 返回节点的出边，结果按节点排序保证确定性
// 每个节点只会被访问一次，所以同一个环只会被报告一次
func FindCycles[N cmp.Ordered](nodes []N, edges func(N) []N) [][]N {
	sorted := slices.Clone(nodes)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	visited := make(map[N]bool, len(sorted))
	onStack := make(map[N]bool)
	var stack []N
	var cycles [][]N

	var visit func(n N)
	visit = func(n N) {
		visited[n] = true
		onStack[n] = true
		stack = append(stack, n)

		next := slices.Clone(edges(n))
		slices.Sort(next)
		for _, m := range slices.Compact(next) {
			if onStack[m] {
				cycles = append(cycles, slices.Clone(stack))
				continue
			}
			if !visited[m] {
				visit(m)
			}
		}

		stack = stack[:len(stack)-1]
		onStack[n] = false
	}

	for _, n := range sorted {
		if !visited[n] {
			visit(n)
		}
	}
	return cycles
}

// HasCycle 图中是否存在环
func HasCycle[N cmp.Ordered](nodes []N, edges func(N) []N) bool {
	return len(FindCycles(nodes, edges)) > 0
}
