// Package visualization renders the intermediate stages of a fiber
// segmentation for parameter tuning: one panel per stage, tiled into a
// single montage image.
package visualization
