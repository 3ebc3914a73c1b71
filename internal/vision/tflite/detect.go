package tflite

import (
	"fmt"
	"image"

	"github.com/procwatch/proctor-go/internal/vision"
)

// DetectFaces runs the face detection model. Output layout is the common
// detector head: tensor 0 holds normalized boxes (ymin, xmin, ymax, xmax),
// tensor 1 the per-box scores.
func (b *Backend) DetectFaces(img image.Image) ([]vision.Face, error) {
	if b.face == nil {
		return nil, fmt.Errorf("face detection not available")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.face.invoke(rgbInput(img, b.face.inputW, b.face.inputH)); err != nil {
		return nil, err
	}

	boxes := b.face.output(0)
	scores := b.face.output(1)
	if boxes == nil || scores == nil {
		return nil, fmt.Errorf("cannot get output tensors")
	}

	bounds := img.Bounds()
	var faces []vision.Face
	for i := 0; i < len(scores) && (i+1)*4 <= len(boxes); i++ {
		score := float64(scores[i])
		if score < detectorScoreFloor {
			continue
		}
		faces = append(faces, vision.Face{
			BBox:       pixelBox(boxes[i*4:i*4+4], bounds),
			Confidence: score,
		})
	}
	return faces, nil
}

// DetectLandmarks runs the face-mesh model and extracts the iris and
// eye-corner positions used for gaze estimation. Returns nil when the mesh
// output does not contain a usable face.
func (b *Backend) DetectLandmarks(img image.Image) (*vision.Landmarks, error) {
	if b.landmark == nil {
		return nil, fmt.Errorf("landmark extraction not available")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.landmark.invoke(rgbInput(img, b.landmark.inputW, b.landmark.inputH)); err != nil {
		return nil, err
	}

	mesh := b.landmark.output(0)
	if len(mesh) < meshPoints*meshStride {
		// Model reported no face; not an error, just no signal.
		return nil, nil
	}

	// Mesh coordinates are in input-tensor pixel space; normalize by the
	// input width so downstream ratios are resolution independent.
	norm := 1.0 / float64(b.landmark.inputW)
	meshX := func(point int) float64 {
		return float64(mesh[point*meshStride]) * norm
	}
	avgX := func(points []int) float64 {
		var sum float64
		for _, p := range points {
			sum += meshX(p)
		}
		return sum / float64(len(points))
	}

	return &vision.Landmarks{
		LeftIrisX:      avgX(leftIrisPoints),
		RightIrisX:     avgX(rightIrisPoints),
		LeftEyeInnerX:  meshX(leftEyeInner),
		LeftEyeOuterX:  meshX(leftEyeOuter),
		RightEyeInnerX: meshX(rightEyeInner),
		RightEyeOuterX: meshX(rightEyeOuter),
	}, nil
}

// DetectObjects runs the object detection model. Output layout is SSD-style:
// boxes, class indices, scores, detection count.
func (b *Backend) DetectObjects(img image.Image) ([]vision.Object, error) {
	if b.object == nil {
		return nil, fmt.Errorf("object detection not available")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.object.invoke(rgbInput(img, b.object.inputW, b.object.inputH)); err != nil {
		return nil, err
	}

	boxes := b.object.output(0)
	classes := b.object.output(1)
	scores := b.object.output(2)
	if boxes == nil || classes == nil || scores == nil {
		return nil, fmt.Errorf("cannot get output tensors")
	}

	count := len(scores)
	if counts := b.object.output(3); len(counts) > 0 && int(counts[0]) < count {
		count = int(counts[0])
	}

	bounds := img.Bounds()
	var objects []vision.Object
	for i := 0; i < count && (i+1)*4 <= len(boxes) && i < len(classes); i++ {
		score := float64(scores[i])
		if score < detectorScoreFloor {
			continue
		}
		cls := int(classes[i])
		if cls < 0 || cls >= len(b.objectLabels) {
			continue
		}
		objects = append(objects, vision.Object{
			Label:      b.objectLabels[cls],
			Confidence: score,
			BBox:       pixelBox(boxes[i*4:i*4+4], bounds),
		})
	}
	return objects, nil
}

// pixelBox converts a normalized (ymin, xmin, ymax, xmax) box into pixel
// coordinates clamped to the frame bounds.
func pixelBox(box []float32, bounds image.Rectangle) vision.BoundingBox {
	w := float64(bounds.Dx())
	h := float64(bounds.Dy())

	x0 := clamp(float64(box[1])*w, 0, w)
	y0 := clamp(float64(box[0])*h, 0, h)
	x1 := clamp(float64(box[3])*w, 0, w)
	y1 := clamp(float64(box[2])*h, 0, h)

	return vision.BoundingBox{
		X:      bounds.Min.X + int(x0),
		Y:      bounds.Min.Y + int(y0),
		Width:  int(x1 - x0),
		Height: int(y1 - y0),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
