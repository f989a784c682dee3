package protractor

// Command opcodes understood by the sensor. Every frame written to the
// sensor is terminated with Terminator.
const (
	OpProductType  byte = 0x00
	OpRequestData  byte = 0x15
	OpScanTime     byte = 0x20
	OpI2CAddress   byte = 0x24
	OpBaudRate     byte = 0x26
	OpLEDUsage     byte = 0x30
	OpVoltage      byte = 0xB2
	OpSerialNumber byte = 0xC0
	OpReflections  byte = 0xE0
	OpCommParams   byte = 0xE1

	Terminator byte = '\n'
)

// DefaultAddress is the factory I2C address of the sensor.
const DefaultAddress = 0x45

// DefaultBaudRate is the factory serial baud rate of the sensor.
const DefaultBaudRate = 9600
