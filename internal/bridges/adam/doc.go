// Package adam reads production counters from an Advantech ADAM-6050
// digital I/O module over Modbus TCP.
//
// Each poll opens one session and performs two reads:
//
//   - 24 input registers from address 0 (function 0x04). Channel i's 32-bit
//     counter is regs[2i] + regs[2i+1]*65536.
//   - 12 discrete inputs from address 0 (function 0x02), least significant
//     bit first.
//
// Channels configured in counter mode report the wide value; discrete mode
// channels report presence as 1 or 0. Channels with no machine are skipped.
//
// A failed poll fails as a whole. Poller serializes polls per module and
// tracks whether the module is reachable.
package adam
