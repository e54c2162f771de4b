// Package fingerprint computes perceptual image hashes, used to warn when
// a newly added reference image looks like one the gallery already holds.
package fingerprint

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// DefaultThreshold is the Hamming distance at or below which two images
// count as near-duplicates.
const DefaultThreshold = 10

// Compute computes a 64-bit difference hash of an encoded image.
func Compute(data []byte) (uint64, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("failed to decode image: %w", err)
	}
	return dHash(img), nil
}

// ComputeFile computes the difference hash of the image stored at path.
func ComputeFile(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Compute(data)
}

// HammingDistance computes the Hamming distance between two 64-bit hashes.
func HammingDistance(hash1, hash2 uint64) int {
	xor := hash1 ^ hash2
	distance := 0
	for xor != 0 {
		distance++
		xor &= xor - 1 // Clear lowest set bit
	}
	return distance
}

// Similar returns true if two hashes are within the given threshold.
func Similar(hash1, hash2 uint64, threshold int) bool {
	return HammingDistance(hash1, hash2) <= threshold
}

// dHash scales the image to 9x8 grayscale and records, for each of the 64
// pixel pairs, whether a pixel is brighter than its right neighbor.
func dHash(img image.Image) uint64 {
	gray := image.NewGray(image.Rect(0, 0, 9, 8))
	draw.BiLinear.Scale(gray, gray.Bounds(), img, img.Bounds(), draw.Over, nil)

	var hash uint64
	bit := 63
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			if gray.GrayAt(x, y).Y > gray.GrayAt(x+1, y).Y {
				hash |= 1 << bit
			}
			bit--
		}
	}
	return hash
}
