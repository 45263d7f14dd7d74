package analyzer

import (
	"image"
	"math"
	"sort"
)

const (
	motionPercentile    = 0.85
	motionMinMagnitude  = 0.5
	motionMinArea       = 100
	cursorMaxArea       = 5000
	cursorMinMagnitude  = 5.0
	motionConfidenceRef = 10.0
)

// FlowField is a block-matching optical flow: one displacement magnitude per block
type FlowField struct {
	Block      int
	Cols, Rows int
	Magnitude  []float64
}

// At returns the magnitude of block (col, row)
func (f FlowField) At(col, row int) float64 {
	return f.Magnitude[row*f.Cols+col]
}

// BlockFlow estimates dense motion between two equally sized frames by
// matching each block of cur against prev within ±search pixels.
// The zero displacement wins ties so static content reports no motion.
func BlockFlow(prev, cur *image.Gray, block, search int) (FlowField, bool) {
	if prev.Rect.Size() != cur.Rect.Size() || block <= 0 {
		return FlowField{}, false
	}

	w, h := cur.Rect.Dx(), cur.Rect.Dy()
	cols, rows := w/block, h/block
	field := FlowField{Block: block, Cols: cols, Rows: rows, Magnitude: make([]float64, cols*rows)}

	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			x0, y0 := col*block, row*block

			best := blockSAD(prev, cur, x0, y0, 0, 0, block, math.MaxInt)
			bestDX, bestDY := 0, 0
			for dy := -search; dy <= search && best > 0; dy++ {
				if y0+dy < 0 || y0+dy+block > h {
					continue
				}
				for dx := -search; dx <= search; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					if x0+dx < 0 || x0+dx+block > w {
						continue
					}
					if sad := blockSAD(prev, cur, x0, y0, dx, dy, block, best); sad < best {
						best, bestDX, bestDY = sad, dx, dy
					}
				}
			}

			field.Magnitude[row*cols+col] = math.Hypot(float64(bestDX), float64(bestDY))
		}
	}

	return field, true
}

// blockSAD sums absolute differences, stopping early once limit is reached
func blockSAD(prev, cur *image.Gray, x0, y0, dx, dy, block, limit int) int {
	sum := 0
	for y := 0; y < block; y++ {
		c := cur.Pix[(y0+y)*cur.Stride+x0:]
		p := prev.Pix[(y0+y+dy)*prev.Stride+x0+dx:]
		for x := 0; x < block; x++ {
			d := int(c[x]) - int(p[x])
			if d < 0 {
				d = -d
			}
			sum += d
		}
		if sum >= limit {
			return sum
		}
	}
	return sum
}

// detectMotion runs the motion layer. Mismatched frame pairs yield nothing.
// The frames may be downscaled (source = analysis * scale); area and magnitude
// limits are compared in source pixels while the returned detections stay in
// analysis space for Detection.Scaled.
func detectMotion(prev, cur *image.Gray, block, search int, ts, scale float64) []Detection {
	if scale <= 0 {
		scale = 1.0
	}

	field, ok := BlockFlow(prev, cur, block, search)
	if !ok || len(field.Magnitude) == 0 {
		return nil
	}

	sorted := append([]float64(nil), field.Magnitude...)
	sort.Float64s(sorted)
	threshold := sorted[int(motionPercentile*float64(len(sorted)-1))]

	mask := make([]bool, len(field.Magnitude))
	for i, m := range field.Magnitude {
		mask[i] = m >= threshold && m*scale > motionMinMagnitude
	}

	var detections []Detection
	visited := make([]bool, len(mask))
	for i := range mask {
		if !mask[i] || visited[i] {
			continue
		}

		cells := flowRegion(field, mask, visited, i)
		blockArea := field.Block * field.Block
		area := len(cells) * blockArea
		sourceArea := float64(area) * scale * scale
		if sourceArea < motionMinArea {
			continue
		}

		var sum float64
		box := image.Rectangle{}
		for _, c := range cells {
			sum += field.Magnitude[c]
			col, row := c%field.Cols, c/field.Cols
			cell := image.Rect(col*field.Block, row*field.Block, (col+1)*field.Block, (row+1)*field.Block)
			box = box.Union(cell)
		}
		mean := sum / float64(len(cells))
		sourceMean := mean * scale

		cursor := sourceArea < cursorMaxArea && sourceMean > cursorMinMagnitude
		priority := PriorityMotion
		if cursor {
			priority = PriorityCursor
		}

		detections = append(detections, NewDetection(box, sourceMean/motionConfidenceRef, priority, ts, MotionMeta{
			Cursor:    cursor,
			Magnitude: mean,
			Area:      area,
		}))
	}

	return detections
}

// flowRegion collects the 4-connected masked blocks reachable from start
func flowRegion(field FlowField, mask, visited []bool, start int) []int {
	var cells []int
	stack := []int{start}
	visited[start] = true

	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		cells = append(cells, i)

		col, row := i%field.Cols, i/field.Cols
		neighbors := [4][2]int{{col + 1, row}, {col - 1, row}, {col, row + 1}, {col, row - 1}}
		for _, n := range neighbors {
			if n[0] < 0 || n[0] >= field.Cols || n[1] < 0 || n[1] >= field.Rows {
				continue
			}
			j := n[1]*field.Cols + n[0]
			if mask[j] && !visited[j] {
				visited[j] = true
				stack = append(stack, j)
			}
		}
	}

	return cells
}
