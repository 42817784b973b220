// srtctl submits and orchestrates disaggregated serving jobs on SLURM.
//
// Outside an allocation, `srtctl apply` renders an sbatch script and
// submits it; inside the allocation the batch script execs `srtctl run`,
// which drives the whole job: infrastructure, workers, frontend, and
// teardown.
package main

import "os"

func main() {
	os.Exit(execute())
}
