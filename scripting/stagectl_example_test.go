package scripting_test

import (
	"log"
	"os"

	"gitlab.com/stephen-fox/meltkit/scripting"
)

func ExampleStageCtl() {
	optionalLogger := log.New(os.Stdout, "[+] ", 0)

	stages := scripting.StageCtl{
		Logger: optionalLogger,
	}

	// Here is an example of a "named" stage:
	stages.Next("calibrate")

	// ... and an "unnamed" stage:
	stages.Next()

	// Output:
	// [+] starting Stage 1: [calibrate]
	// [+] executed Stage 1: [calibrate]
	// [+] starting Stage 2: []
}
