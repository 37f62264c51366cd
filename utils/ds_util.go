package utils

import (
	"github.com/emirpasic/gods/sets"
	"github.com/emirpasic/gods/sets/hashset"
)

func List2set[T any](list []T) sets.Set {
	set := hashset.New()
	for _, value := range list {
		set.Add(value)
	}
	return set
}

// Difference 返回在list中但不在set中的元素，保持list原有顺序
func Difference[T any](list []T, set sets.Set) []T {
	var answer []T
	for _, value := range list {
		if !set.Contains(value) {
			answer = append(answer, value)
		}
	}
	return answer
}
