package poisson

import (
	"github.com/mjibson/go-dsp/fft"
)

func init() {
	// Each rank already runs on its own goroutine, and the transforms are
	// short, so a single FFT worker per call is enough.
	fft.SetWorkerPoolSize(1)
}

// The azimuthal transform of a real column of length n is stored in n real
// "slots". Slot s <= n/2 holds Re X_s and slot s > n/2 holds Im X_{n-s},
// where X_m = sum_j x_j exp(-2 pi i j m / n).

// slotMode returns the azimuthal wavenumber whose coefficient is stored in
// slot s of an n-point transform.
func slotMode(s, n int) int {
	if s <= n/2 {
		return s
	}
	return n - s
}

// forward transforms x in place into slot order and returns the complex
// transform it was packed from.
func forward(x []float64) []complex128 {
	n := len(x)
	X := fft.FFTReal(x)
	for s := 0; s <= n/2; s++ {
		x[s] = real(X[s])
	}
	for s := n/2 + 1; s < n; s++ {
		x[s] = imag(X[n-s])
	}
	return X
}

// inverse undoes forward in place.
func inverse(x []float64) {
	n := len(x)
	X := make([]complex128, n)
	X[0] = complex(x[0], 0)
	X[n/2] = complex(x[n/2], 0)
	for m := 1; m < n/2; m++ {
		X[m] = complex(x[m], x[n-m])
		X[n-m] = complex(x[m], -x[n-m])
	}

	out := fft.IFFT(X)
	for j := range x {
		x[j] = real(out[j])
	}
}

// dropOddModes zeroes the odd-m coefficients of a slot-ordered column x and
// of the transform X it was packed from.
func dropOddModes(x []float64, X []complex128) {
	n := len(x)
	for s := range x {
		if slotMode(s, n)%2 == 1 {
			x[s] = 0
		}
	}
	for m := 1; m < n; m += 2 {
		X[m] = 0
	}
}
