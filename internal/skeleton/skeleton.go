// Package skeleton holds the keypoint numbering schemes and bone tables.
//
// The two schemes are not interchangeable: index 11 is the left hip in COCO17
// and the left shoulder in BlazePose33. A Skeleton always carries the scheme
// its keypoints were produced under.
package skeleton

import (
	"fmt"

	"github.com/andresmejia3/posecast/internal/types"
)

// Bone connects two keypoint identities.
type Bone struct {
	A, B int
}

// Scheme is a keypoint numbering convention with its bone topology.
type Scheme struct {
	Name  string
	Names []string
	Bones []Bone
}

// Size returns the number of identities in the scheme.
func (s *Scheme) Size() int { return len(s.Names) }

// COCO17 is the PoseNet / COCO numbering used by the in-process engine.
var COCO17 = &Scheme{
	Name: "coco17",
	Names: []string{
		"nose", "left_eye", "right_eye", "left_ear", "right_ear",
		"left_shoulder", "right_shoulder", "left_elbow", "right_elbow",
		"left_wrist", "right_wrist", "left_hip", "right_hip",
		"left_knee", "right_knee", "left_ankle", "right_ankle",
	},
	Bones: []Bone{
		{0, 1}, {0, 2}, {1, 3}, {2, 4},
		{5, 6}, {5, 7}, {7, 9}, {6, 8}, {8, 10},
		{5, 11}, {6, 12}, {11, 12},
		{11, 13}, {13, 15}, {12, 14}, {14, 16},
	},
}

// BlazePose33 is the MediaPipe body landmark numbering used by the
// out-of-process estimator.
var BlazePose33 = &Scheme{
	Name: "blazepose33",
	Names: []string{
		"nose", "left_eye_inner", "left_eye", "left_eye_outer",
		"right_eye_inner", "right_eye", "right_eye_outer",
		"left_ear", "right_ear", "mouth_left", "mouth_right",
		"left_shoulder", "right_shoulder", "left_elbow", "right_elbow",
		"left_wrist", "right_wrist", "left_pinky", "right_pinky",
		"left_index", "right_index", "left_thumb", "right_thumb",
		"left_hip", "right_hip", "left_knee", "right_knee",
		"left_ankle", "right_ankle", "left_heel", "right_heel",
		"left_foot_index", "right_foot_index",
	},
	Bones: []Bone{
		{0, 1}, {1, 2}, {2, 3}, {3, 7}, {0, 4}, {4, 5}, {5, 6}, {6, 8},
		{9, 10},
		{11, 12}, {11, 13}, {13, 15}, {15, 17}, {15, 19}, {15, 21}, {17, 19},
		{12, 14}, {14, 16}, {16, 18}, {16, 20}, {16, 22}, {18, 20},
		{11, 23}, {12, 24}, {23, 24},
		{23, 25}, {24, 26}, {25, 27}, {26, 28},
		{27, 29}, {28, 30}, {29, 31}, {30, 32}, {27, 31}, {28, 32},
	},
}

// Lookup returns a scheme by name.
func Lookup(name string) (*Scheme, error) {
	switch name {
	case COCO17.Name:
		return COCO17, nil
	case BlazePose33.Name:
		return BlazePose33, nil
	}
	return nil, fmt.Errorf("unknown keypoint scheme %q", name)
}

// Skeleton is the set of keypoints present in one cycle.
type Skeleton struct {
	Scheme    *Scheme
	Keypoints []types.Keypoint
}

// New builds a skeleton, rejecting identities the scheme does not define.
func New(scheme *Scheme, keypoints []types.Keypoint) (Skeleton, error) {
	for _, kp := range keypoints {
		if kp.ID < 0 || kp.ID >= scheme.Size() {
			return Skeleton{}, fmt.Errorf("keypoint id %d outside %s (0..%d)", kp.ID, scheme.Name, scheme.Size()-1)
		}
	}
	return Skeleton{Scheme: scheme, Keypoints: keypoints}, nil
}

// Connections returns the bones whose endpoints are both present, as pairs
// of keypoints.
func (s Skeleton) Connections() [][2]types.Keypoint {
	present := make(map[int]types.Keypoint, len(s.Keypoints))
	for _, kp := range s.Keypoints {
		present[kp.ID] = kp
	}

	var out [][2]types.Keypoint
	for _, b := range s.Scheme.Bones {
		a, okA := present[b.A]
		c, okB := present[b.B]
		if okA && okB {
			out = append(out, [2]types.Keypoint{a, c})
		}
	}
	return out
}

// Clip splits keypoints into those inside [0,w) x [0,h) and a count of the
// ones outside.
func (s Skeleton) Clip(w, h float32) (Skeleton, int) {
	visible := make([]types.Keypoint, 0, len(s.Keypoints))
	for _, kp := range s.Keypoints {
		if kp.X >= 0 && kp.X < w && kp.Y >= 0 && kp.Y < h {
			visible = append(visible, kp)
		}
	}
	return Skeleton{Scheme: s.Scheme, Keypoints: visible}, len(s.Keypoints) - len(visible)
}

// Label returns the name of keypoint id.
func (s *Scheme) Label(id int) string {
	if id < 0 || id >= len(s.Names) {
		return fmt.Sprintf("#%d", id)
	}
	return s.Names[id]
}
