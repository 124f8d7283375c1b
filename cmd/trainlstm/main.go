package main

import (
	"log"
	"os"

	"github.com/joshcarp/lstmgo"
)

// trainlstm runs one training invocation with every default: file_dataset and
// mapping.json in the working directory, checkpoint at model.h5.
func main() {
	cfg := lstmgo.DefaultConfig()
	history, err := lstmgo.Train(cfg, lstmgo.CorpusGenerator("file_dataset", "mapping.json"), os.Stdout)
	if err != nil {
		log.Fatal(err)
	}
	if n := history.Epochs(); n > 0 {
		log.Printf("trained %d epochs, final loss %.4f", n, history.Loss[n-1])
	}
}
