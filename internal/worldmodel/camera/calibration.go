package camera

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/worldmodel/internal/worldmodel"
)

// matrix is the rows/cols/data layout used by camera calibration files.
type matrix struct {
	Rows int       `yaml:"rows"`
	Cols int       `yaml:"cols"`
	Data []float64 `yaml:"data"`
}

type calibrationFile struct {
	ImageWidth             int    `yaml:"image_width"`
	ImageHeight            int    `yaml:"image_height"`
	CameraName             string `yaml:"camera_name"`
	CameraMatrix           matrix `yaml:"camera_matrix"`
	DistortionModel        string `yaml:"distortion_model"`
	DistortionCoefficients matrix `yaml:"distortion_coefficients"`
	RectificationMatrix    matrix `yaml:"rectification_matrix"`
	ProjectionMatrix       matrix `yaml:"projection_matrix"`
}

// LoadCalibration reads a camera calibration YAML file as written by the
// usual camera calibration tools.
func LoadCalibration(path string) (worldmodel.CameraInfo, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return worldmodel.CameraInfo{}, errors.Wrap(err, "read calibration")
	}
	return ParseCalibration(data)
}

// ParseCalibration decodes a camera calibration YAML document.
func ParseCalibration(data []byte) (worldmodel.CameraInfo, error) {
	var f calibrationFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return worldmodel.CameraInfo{}, errors.Wrap(err, "parse calibration")
	}

	info := worldmodel.CameraInfo{
		Width:           f.ImageWidth,
		Height:          f.ImageHeight,
		DistortionModel: f.DistortionModel,
		D:               f.DistortionCoefficients.Data,
	}
	if err := fill(info.K[:], f.CameraMatrix, "camera_matrix"); err != nil {
		return worldmodel.CameraInfo{}, err
	}
	if err := fill(info.R[:], f.RectificationMatrix, "rectification_matrix"); err != nil {
		return worldmodel.CameraInfo{}, err
	}
	if err := fill(info.P[:], f.ProjectionMatrix, "projection_matrix"); err != nil {
		return worldmodel.CameraInfo{}, err
	}
	return info, nil
}

// fill copies m into dst. An absent matrix leaves dst zero.
func fill(dst []float64, m matrix, name string) error {
	if len(m.Data) == 0 {
		return nil
	}
	if len(m.Data) != len(dst) {
		return errors.Wrapf(ErrInvalidCalibration, "%s has %d values, want %d", name, len(m.Data), len(dst))
	}
	if m.Rows*m.Cols != 0 && m.Rows*m.Cols != len(dst) {
		return errors.Wrapf(ErrInvalidCalibration, "%s is %dx%d", name, m.Rows, m.Cols)
	}
	copy(dst, m.Data)
	return nil
}
