// Package geometry holds the small amount of 3-D algebra the world model
// needs: positional covariances, quaternions, rigid transforms, statistical
// distance and covariance-weighted fusion.
//
// Vectors are gonum r3.Vec, quaternions gonum quat.Number. Matrix work goes
// through gonum/mat; the fixed-size Cov3 array is the storage form used on
// tracked objects and on the wire.
package geometry
