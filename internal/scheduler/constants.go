package scheduler

// Remote layout inside a device working directory.
const (
	resultFileName  = "result.txt"
	interiorDirName = "interior"
)

// outputTailBytes bounds how much live output a job record retains.
const outputTailBytes = 4096

// adspLibraryPath tells the Qualcomm runtime where to find DSP skels. The
// leading "." covers the skels staged into the working directory itself.
const adspLibraryPath = ".;/system/lib/rfsa/adsp;/system/vendor/lib/rfsa/adsp;/dsp"

// powerScript pins clocks and governors before a measurement. It lives in the
// workspace and is invoked best-effort; not every platform ships one.
const powerScript = "tools/power.sh"
