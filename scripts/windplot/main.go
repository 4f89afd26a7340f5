package main

import (
	"log"
	"os"

	plt "github.com/phil-mansfield/pyplot"
	"github.com/phil-mansfield/table"
)

// Plots the wind diagnostic dump written by the driver's -Diag flag:
// remaining decoupling time against gas density, one point per wind
// particle.
func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s diag_file", os.Args[0])
	}

	cols, err := table.ReadTable(os.Args[1], []int{0, 1}, nil)
	if err != nil {
		log.Fatal(err.Error())
	}
	delays, densities := cols[0], cols[1]

	plt.Reset()
	plt.Plot(densities, delays, "ok")
	plt.Show()
}
