// Package feature extracts SURF-like local descriptors from grayscale images.
//
// Detection builds an integral image and evaluates the determinant of an
// approximated Hessian with box filters over several octaves. Local maxima in
// a 3x3x3 scale-space neighbourhood above the response threshold are refined
// by quadratic interpolation. Each interest point is described by 64 values
// summarising Haar wavelet responses over a 4x4 grid around it, without
// orientation assignment (U-SURF).
//
// Usage:
//
//	ext, err := feature.New(feature.DefaultOptions())
//	if err != nil {
//		return err
//	}
//	descs, err := ext.Extract(img)
package feature
