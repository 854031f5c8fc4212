package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"

	"gocv.io/x/gocv"

	"github.com/camden-git/facetagger/models"
	"github.com/camden-git/facetagger/utils"
)

// DNNFaceDetector runs an OpenCV SSD face model. A gocv Net must not be used
// from more than one goroutine at a time; see DetectorPool.
type DNNFaceDetector struct {
	Net     gocv.Net
	Enabled bool

	// configuration parameters used during detection
	InputSizeW    int
	InputSizeH    int
	ScaleFactor   float64
	MeanVal       gocv.Scalar
	ConfThreshold float32

	processor *Processor
}

// NewDNNFaceDetector loads the DNN model
func NewDNNFaceDetector(configPath, modelPath string, minConfidence float64, processor *Processor) (*DNNFaceDetector, error) {
	if configPath == "" || modelPath == "" {
		return nil, errors.New("detection(dnn): config or model path is empty")
	}

	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return nil, fmt.Errorf("detection(dnn): failed loading network model: config=%s, model=%s", configPath, modelPath)
	}
	log.Printf("detection(dnn): successfully loaded face detection model")

	cudaBackendErr := net.SetPreferableBackend(gocv.NetBackendCUDA)
	cudaTargetErr := net.SetPreferableTarget(gocv.NetTargetCUDA)

	if cudaBackendErr == nil && cudaTargetErr == nil {
		log.Println("detection(dnn): Set backend/target to CUDA")
	} else {
		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
		log.Println("detection(dnn): Set backend/target to CPU (Default)")
	}

	return &DNNFaceDetector{
		Net:           net,
		Enabled:       true,
		InputSizeW:    300,
		InputSizeH:    300,
		ScaleFactor:   1.0,
		MeanVal:       gocv.NewScalar(104.0, 177.0, 123.0, 0),
		ConfThreshold: float32(minConfidence),
		processor:     processor,
	}, nil
}

func (d *DNNFaceDetector) Close() {
	if d != nil && d.Enabled {
		d.Net.Close()
		log.Println("detection(dnn): closed network")
		d.Enabled = false
	}
}

// Detect decodes and downscales the image, then runs the face model on it.
func (d *DNNFaceDetector) Detect(ctx context.Context, imageID string) (Detection, error) {
	if d == nil || !d.Enabled {
		return Detection{}, &DetectionError{ImageID: imageID, Err: errors.New("detector is not enabled")}
	}
	if err := ctx.Err(); err != nil {
		return Detection{}, err
	}

	path := ImagePath(imageID)
	src, err := d.processor.LoadForDetection(path)
	if err != nil {
		return Detection{}, &DetectionError{ImageID: imageID, Err: err}
	}

	img, err := gocv.ImageToMatRGB(src)
	if err != nil {
		return Detection{}, &DetectionError{ImageID: imageID, Err: fmt.Errorf("failed to convert image: %w", err)}
	}
	defer img.Close()

	boxes := d.DetectFaces(img)
	log.Printf("detection(dnn): found %d face(s) in %s", len(boxes), imageID)

	return Detection{
		Boxes:   boxes,
		Width:   src.Bounds().Dx(),
		Height:  src.Bounds().Dy(),
		TakenAt: utils.ReadTakenAt(path),
	}, nil
}

// DetectFaces runs face detection using the loaded DNN model
func (d *DNNFaceDetector) DetectFaces(img gocv.Mat) []models.Box {
	if img.Empty() {
		return nil
	}

	imgHeight := float32(img.Rows())
	imgWidth := float32(img.Cols())

	blob := gocv.BlobFromImage(img, d.ScaleFactor, image.Pt(d.InputSizeW, d.InputSizeH), d.MeanVal, false, false)
	defer blob.Close()

	d.Net.SetInput(blob, "")
	detectionsMat := d.Net.Forward("")
	defer detectionsMat.Close()

	results := []models.Box{}

	// output is [1, 1, N, 7]: image id, class, confidence, then normalised corners
	sizes := detectionsMat.Size()
	if len(sizes) != 4 || sizes[3] != 7 {
		log.Printf("detection(dnn): unexpected output matrix dimensions: %v", sizes)
		return results
	}

	numDetections := sizes[2]
	if numDetections == 0 {
		return results
	}

	detectionsData := detectionsMat.Reshape(1, numDetections)
	defer detectionsData.Close()

	for i := 0; i < numDetections; i++ {
		confidence := detectionsData.GetFloatAt(i, 2)
		if confidence < d.ConfThreshold {
			continue
		}

		xMin := max(0, detectionsData.GetFloatAt(i, 3)*imgWidth)
		yMin := max(0, detectionsData.GetFloatAt(i, 4)*imgHeight)
		xMax := min(imgWidth, detectionsData.GetFloatAt(i, 5)*imgWidth)
		yMax := min(imgHeight, detectionsData.GetFloatAt(i, 6)*imgHeight)

		if xMax > xMin && yMax > yMin {
			results = append(results, models.Box{
				Left:   float64(xMin),
				Top:    float64(yMin),
				Right:  float64(xMax),
				Bottom: float64(yMax),
			})
		}
	}

	return results
}
