// Package board はワークスペースのカンバンボード（タスクの並び替えを含む）を提供する。
package board

import (
	"errors"
	"math"
)

// seedPosition は空の列に最初に置かれるタスクの位置。
const seedPosition = 1.0

var (
	// ErrNonFinitePosition は算出した位置がNaNまたは無限大であることを示す。
	ErrNonFinitePosition = errors.New("board: position is not finite")
	// ErrPositionExhausted は隣接する位置の間に浮動小数点数の余地が残っていないことを示す。
	ErrPositionExhausted = errors.New("board: no room between neighbor positions")
)

// Allocate は直前(prev)と直後(next)の位置の間に並ぶ新しい位置を返す。
// nilは列の先頭・末尾を表す。prev < next であることは呼び出し側が保証する。
func Allocate(prev, next *float64) float64 {
	switch {
	case prev == nil && next == nil:
		return seedPosition
	case prev == nil:
		if *next <= 0 {
			return *next - 1
		}
		return *next / 2
	case next == nil:
		return *prev + 1
	default:
		return (*prev + *next) / 2
	}
}

// ValidatePosition は永続化前に位置を検証する。
func ValidatePosition(pos float64, prev, next *float64) error {
	if math.IsNaN(pos) || math.IsInf(pos, 0) {
		return ErrNonFinitePosition
	}
	if prev != nil && !(pos > *prev) {
		return ErrPositionExhausted
	}
	if next != nil && !(pos < *next) {
		return ErrPositionExhausted
	}
	return nil
}
