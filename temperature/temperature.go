// Package temperature holds unit types and conversions for the thermal
// instruments on the testbed.
package temperature

type (
	// Celsius is a temperature in C
	Celsius float64

	// Kelvin is a temperature in K
	Kelvin float64

	// Centikelvin is a temperature in hundredths of a Kelvin, the native
	// unit of the Lepton's radiometric output
	Centikelvin uint16
)

// C2K converts a temp in Celsius to Kelvin
func C2K(c Celsius) Kelvin {
	return Kelvin(c + 273.15)
}

// K2C converts a temp in Kelvin to Celsius
func K2C(k Kelvin) Celsius {
	return Celsius(k - 273.15)
}

// CK2C converts a radiometric centikelvin count to Celsius
func CK2C(ck Centikelvin) Celsius {
	return Celsius(float64(ck)/100 - 273.15)
}

// C2CK converts Celsius to the nearest centikelvin count
func C2CK(c Celsius) Centikelvin {
	return Centikelvin((float64(c) + 273.15) * 100)
}
