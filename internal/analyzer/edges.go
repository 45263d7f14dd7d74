package analyzer

import (
	"image"
	"image/color"
	"math"

	xdraw "golang.org/x/image/draw"
)

// ToGray converts a frame to an origin-based grayscale raster
func ToGray(img image.Image) *image.Gray {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	gray := image.NewGray(image.Rect(0, 0, w, h))

	switch src := img.(type) {
	case *image.Gray:
		for y := 0; y < h; y++ {
			copy(gray.Pix[y*gray.Stride:y*gray.Stride+w], src.Pix[src.PixOffset(bounds.Min.X, bounds.Min.Y+y):])
		}
	case *image.RGBA:
		for y := 0; y < h; y++ {
			row := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			for x := 0; x < w; x++ {
				i := row + x*4
				lum := (19595*uint32(src.Pix[i]) + 38470*uint32(src.Pix[i+1]) + 7471*uint32(src.Pix[i+2]) + 1<<15) >> 16
				gray.Pix[y*gray.Stride+x] = uint8(lum)
			}
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				gray.Set(x, y, color.GrayModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)))
			}
		}
	}

	return gray
}

// Downscale shrinks img so its width is at most maxWidth.
// The returned scale maps analysed coordinates back to the source (source = analysed * scale).
func Downscale(img image.Image, maxWidth int) (image.Image, float64) {
	bounds := img.Bounds()
	if maxWidth <= 0 || bounds.Dx() <= maxWidth {
		return img, 1.0
	}

	scale := float64(bounds.Dx()) / float64(maxWidth)
	h := int(math.Round(float64(bounds.Dy()) / scale))
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, xdraw.Src, nil)
	return dst, scale
}

// ScaleRect maps a rectangle from analysis space back to source space
func ScaleRect(r image.Rectangle, scale float64) image.Rectangle {
	if scale == 1.0 {
		return r
	}
	return image.Rect(
		int(math.Round(float64(r.Min.X)*scale)),
		int(math.Round(float64(r.Min.Y)*scale)),
		int(math.Round(float64(r.Max.X)*scale)),
		int(math.Round(float64(r.Max.Y)*scale)),
	)
}

// Sobel returns a binary edge map of gradient magnitudes above threshold
func Sobel(gray *image.Gray, threshold float64) *image.Gray {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	edges := image.NewGray(image.Rect(0, 0, w, h))

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx, gy := sobelAt(gray, x, y)
			if math.Hypot(gx, gy) > threshold {
				edges.Pix[y*edges.Stride+x] = 255
			}
		}
	}

	return edges
}

// sobelAt applies the 3x3 Sobel kernels at (x, y); caller keeps a 1px border
func sobelAt(gray *image.Gray, x, y int) (float64, float64) {
	s := gray.Stride
	p := gray.Pix
	i := y*s + x

	tl, tc, tr := float64(p[i-s-1]), float64(p[i-s]), float64(p[i-s+1])
	ml, mr := float64(p[i-1]), float64(p[i+1])
	bl, bc, br := float64(p[i+s-1]), float64(p[i+s]), float64(p[i+s+1])

	gx := (tr + 2*mr + br) - (tl + 2*ml + bl)
	gy := (bl + 2*bc + br) - (tl + 2*tc + tr)
	return gx, gy
}

// Canny runs blur, Sobel, non-maximum suppression and hysteresis thresholding.
// Edge pixels are 255, everything else 0.
func Canny(gray *image.Gray, low, high float64) *image.Gray {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if w < 3 || h < 3 {
		return out
	}

	blurred := gaussianBlur(gray)

	mag := make([]float64, w*h)
	dir := make([]uint8, w*h)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx, gy := sobelAt(blurred, x, y)
			mag[y*w+x] = math.Hypot(gx, gy)
			dir[y*w+x] = quantizeDirection(gx, gy)
		}
	}

	// 0 = none, 1 = weak, 2 = strong
	state := make([]uint8, w*h)
	var stack []int
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			m := mag[i]
			if m < low {
				continue
			}
			var a, b float64
			switch dir[i] {
			case 0:
				a, b = mag[i-1], mag[i+1]
			case 45:
				a, b = mag[i-w-1], mag[i+w+1]
			case 90:
				a, b = mag[i-w], mag[i+w]
			default:
				a, b = mag[i-w+1], mag[i+w-1]
			}
			if m < a || m < b {
				continue
			}
			if m >= high {
				state[i] = 2
				stack = append(stack, i)
			} else {
				state[i] = 1
			}
		}
	}

	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := i%w, i/w
		out.Pix[y*out.Stride+x] = 255

		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := x+dx, y+dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if state[j] == 1 {
					state[j] = 2
					stack = append(stack, j)
				}
			}
		}
	}

	return out
}

func quantizeDirection(gx, gy float64) uint8 {
	angle := math.Atan2(gy, gx) * 180 / math.Pi
	if angle < 0 {
		angle += 180
	}
	switch {
	case angle < 22.5 || angle >= 157.5:
		return 0
	case angle < 67.5:
		return 45
	case angle < 112.5:
		return 90
	default:
		return 135
	}
}

// gaussianBlur applies a 3x3 binomial kernel, copying the border unchanged
func gaussianBlur(gray *image.Gray) *image.Gray {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	copy(out.Pix, gray.Pix)

	s := gray.Stride
	p := gray.Pix
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*s + x
			sum := int(p[i-s-1]) + 2*int(p[i-s]) + int(p[i-s+1]) +
				2*int(p[i-1]) + 4*int(p[i]) + 2*int(p[i+1]) +
				int(p[i+s-1]) + 2*int(p[i+s]) + int(p[i+s+1])
			out.Pix[y*out.Stride+x] = uint8(sum / 16)
		}
	}
	return out
}

// Dilate performs morphological dilation to connect nearby edges
func Dilate(img *image.Gray, kernelSize, iterations int) *image.Gray {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	result := image.NewGray(image.Rect(0, 0, w, h))
	copy(result.Pix, img.Pix)

	half := kernelSize / 2

	for iter := 0; iter < iterations; iter++ {
		temp := image.NewGray(result.Rect)

		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				maxVal := uint8(0)
				for ky := -half; ky <= half && maxVal < 255; ky++ {
					yy := y + ky
					if yy < 0 || yy >= h {
						continue
					}
					for kx := -half; kx <= half; kx++ {
						xx := x + kx
						if xx < 0 || xx >= w {
							continue
						}
						if v := result.Pix[yy*result.Stride+xx]; v > maxVal {
							maxVal = v
						}
					}
				}
				temp.Pix[y*temp.Stride+x] = maxVal
			}
		}

		result = temp
	}

	return result
}

// Component is one 4-connected white region of a binary map
type Component struct {
	Rect   image.Rectangle
	Pixels int
}

// FindContours finds bounding rectangles of connected white regions
func FindContours(img *image.Gray) []Component {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	visited := make([]bool, w*h)

	var components []Component
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if img.Pix[y*img.Stride+x] > 128 && !visited[y*w+x] {
				components = append(components, floodFill(img, visited, x, y))
			}
		}
	}

	return components
}

// floodFill performs flood fill and returns the component bounds and pixel count
func floodFill(img *image.Gray, visited []bool, startX, startY int) Component {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	minX, minY := startX, startY
	maxX, maxY := startX, startY
	pixels := 0

	stack := []image.Point{{X: startX, Y: startY}}

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		x, y := p.X, p.Y
		if x < 0 || x >= w || y < 0 || y >= h {
			continue
		}
		if visited[y*w+x] || img.Pix[y*img.Stride+x] <= 128 {
			continue
		}

		visited[y*w+x] = true
		pixels++

		if x < minX {
			minX = x
		}
		if x > maxX {
			maxX = x
		}
		if y < minY {
			minY = y
		}
		if y > maxY {
			maxY = y
		}

		stack = append(stack,
			image.Point{X: x + 1, Y: y},
			image.Point{X: x - 1, Y: y},
			image.Point{X: x, Y: y + 1},
			image.Point{X: x, Y: y - 1},
		)
	}

	return Component{Rect: image.Rect(minX, minY, maxX+1, maxY+1), Pixels: pixels}
}

// CountEdges counts white pixels of a binary map inside r
func CountEdges(edges *image.Gray, r image.Rectangle) int {
	r = r.Intersect(edges.Rect)
	count := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := edges.Pix[y*edges.Stride:]
		for x := r.Min.X; x < r.Max.X; x++ {
			if row[x] > 128 {
				count++
			}
		}
	}
	return count
}

// GridCells splits a w×h area into an n×n grid, row-major
func GridCells(w, h, n int) []image.Rectangle {
	cells := make([]image.Rectangle, 0, n*n)
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			cells = append(cells, image.Rect(
				col*w/n, row*h/n,
				(col+1)*w/n, (row+1)*h/n,
			))
		}
	}
	return cells
}
