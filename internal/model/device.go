package model

// Property keys read from the device property dump.
const (
	PropProductModel  = "ro.product.model"
	PropBoardPlatform = "ro.board.platform"
	PropABIList       = "ro.product.cpu.abilist"
)

// Target ABIs the benchmark binary is built for.
const (
	ABIArm32 = "armeabi-v7a"
	ABIArm64 = "arm64-v8a"
)

// Device is one attached unit, identified by its serial. Properties are read
// once at enumeration time and cached for the duration of a run; the physical
// device can disappear at any point, so every bridge call against it must
// tolerate absence.
type Device struct {
	Serial  string   `json:"serial"`
	Product string   `json:"product"`
	SoC     string   `json:"soc"`
	ABIs    []string `json:"abis"`
}

// SupportsABI reports whether the device advertises the given ABI.
func (d *Device) SupportsABI(abi string) bool {
	for _, a := range d.ABIs {
		if a == abi {
			return true
		}
	}
	return false
}
