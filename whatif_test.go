package qnsolve

import (
	"context"
	"errors"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// sweepModel builds the models the sweeps run over without a testing.TB
func sweepModel(build func(mf *ModelFrame)) *ModelDesc {
	mf := CreateModelFrame("sweep")
	build(mf)
	md := mf.Transform()
	md.Algorithm = "MVA"
	return &md
}

func openSweepModel() *ModelDesc {
	return sweepModel(func(mf *ModelFrame) {
		mf.AddStation("front", QueueStation, 1)
		mf.AddStation("back", QueueStation, 1)
		mf.AddOpenClass("requests", 0.8)
		Expect(mf.SetService("front", "requests", 0.2, 1)).To(Succeed())
		Expect(mf.SetService("back", "requests", 0.1, 2)).To(Succeed())
	})
}

func closedPairModel() *ModelDesc {
	return sweepModel(func(mf *ModelFrame) {
		mf.AddStation("cpu", QueueStation, 1)
		mf.AddStation("pool", QueueStation, 2)
		mf.AddStation("think", DelayStation, 1)
		mf.AddClosedClass("batch", 6)
		mf.AddClosedClass("online", 4)
		Expect(mf.SetService("cpu", "batch", 0.1, 1)).To(Succeed())
		Expect(mf.SetService("cpu", "online", 0.05, 1)).To(Succeed())
		Expect(mf.SetService("pool", "batch", 0.3, 1)).To(Succeed())
		Expect(mf.SetService("pool", "online", 0.2, 1)).To(Succeed())
		Expect(mf.SetService("think", "batch", 1.0, 1)).To(Succeed())
		Expect(mf.SetService("think", "online", 3.0, 1)).To(Succeed())
	})
}

func stepOf(err error) int {
	var se *SolveError
	Expect(errors.As(err, &se)).To(BeTrue())
	return se.Step
}

var _ = Describe("Controller", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Context("with an arrival rate sweep on an open model", func() {
		It("should produce one result per value and leave the model alone", func() {
			md := openSweepModel()
			before := md.Clone()
			ctrl := NewController(md)
			Expect(ctrl.State()).To(Equal(Idle))

			sr, err := ctrl.Run(ctx, SweepSpec{Dimension: Arrival, Class: 0, Station: -1, Values: []float64{1.0, 1.5, 2.0}})
			Expect(err).NotTo(HaveOccurred())
			Expect(sr.OK).To(BeTrue())
			Expect(sr.State).To(Equal(Completed))
			Expect(sr.RunID).NotTo(BeEmpty())
			Expect(sr.Results).To(HaveLen(3))
			Expect(ctrl.State()).To(Equal(Completed))

			Expect(md.Classes[0].Rate).To(Equal(0.8))
			Expect(md.Clone()).To(Equal(before))
			Expect(md.Result).To(BeNil())

			for idx, rate := range []float64{1.0, 1.5, 2.0} {
				Expect(sr.Results[idx].ResidenceTime[0][0]).To(BeNumerically("~", 0.2/(1-0.2*rate), 1e-12))
			}
		})

		It("should scale every open class when no class is named", func() {
			ctrl := NewController(openSweepModel())
			sr, err := ctrl.Run(ctx, SweepSpec{Dimension: Arrival, Class: -1, Station: -1, Values: []float64{2}})
			Expect(err).NotTo(HaveOccurred())
			Expect(sr.Results[0].Utilization[0][0]).To(BeNumerically("~", 1.6*0.2, 1e-12))
		})

		It("should reject a non-positive rate at its step", func() {
			ctrl := NewController(openSweepModel())
			sr, err := ctrl.Run(ctx, SweepSpec{Dimension: Arrival, Class: 0, Station: -1, Values: []float64{1, 0}})
			Expect(err).To(MatchError(ErrInputData))
			Expect(stepOf(err)).To(Equal(1))
			Expect(sr.Results).To(HaveLen(1))
			Expect(sr.OK).To(BeFalse())
			Expect(ctrl.State()).To(Equal(Failed))
		})

		It("should fail the step that saturates a station", func() {
			ctrl := NewController(openSweepModel())
			_, err := ctrl.Run(ctx, SweepSpec{Dimension: Arrival, Class: 0, Station: -1, Values: []float64{1, 6}})
			Expect(err).To(MatchError(ErrInputData))
			Expect(stepOf(err)).To(Equal(1))
			Expect(err.Error()).To(ContainSubstring("saturated"))
		})

		It("should refuse a closed target class", func() {
			ctrl := NewController(closedPairModel())
			_, err := ctrl.Run(ctx, SweepSpec{Dimension: Arrival, Class: 0, Station: -1, Values: []float64{1}})
			Expect(err).To(MatchError(ErrInputData))
			Expect(ctrl.State()).To(Equal(Failed))
		})
	})

	Context("with a population mix sweep", func() {
		It("should split the closed population between the two classes", func() {
			md := closedPairModel()
			ctrl := NewController(md)
			sr, err := ctrl.Run(ctx, SweepSpec{Dimension: Mix, Class: -1, Station: -1, Values: []float64{0.3, 0.5}})
			Expect(err).NotTo(HaveOccurred())
			Expect(sr.Results).To(HaveLen(2))
			Expect(classQueue(sr.Results[0], 0)).To(BeNumerically("~", 3, 1e-9))
			Expect(classQueue(sr.Results[0], 1)).To(BeNumerically("~", 7, 1e-9))
			Expect(classQueue(sr.Results[1], 0)).To(BeNumerically("~", 5, 1e-9))
			Expect(md.Classes[0].Population).To(Equal(6.0))
		})

		It("should report a non-integer population with its class and step", func() {
			ctrl := NewController(closedPairModel())
			sr, err := ctrl.Run(ctx, SweepSpec{Dimension: Mix, Class: 0, Station: -1, Values: []float64{0.5, 0.43}})
			Expect(err).To(MatchError(ErrInputData))
			Expect(stepOf(err)).To(Equal(1))
			Expect(err.Error()).To(ContainSubstring("batch"))
			Expect(err.Error()).To(ContainSubstring("step 1"))
			Expect(sr.Results).To(HaveLen(1))
			Expect(sr.State).To(Equal(Failed))
		})

		It("should require exactly two closed classes", func() {
			md := closedPairModel()
			md.Classes = md.Classes[:1]
			for k := range md.ServiceTimes {
				md.ServiceTimes[k] = md.ServiceTimes[k][:1]
				md.Visits[k] = md.Visits[k][:1]
			}
			_, err := NewController(md).Run(ctx, SweepSpec{Dimension: Mix, Class: -1, Station: -1, Values: []float64{0.5}})
			Expect(err).To(MatchError(ErrInputData))
			Expect(err.Error()).To(ContainSubstring("exactly two closed classes"))
		})
	})

	Context("with a population sweep", func() {
		It("should multiply every closed population when no class is named", func() {
			ctrl := NewController(closedPairModel())
			sr, err := ctrl.Run(ctx, SweepSpec{Dimension: Customers, Class: -1, Station: -1, Values: []float64{0.5, 2}})
			Expect(err).NotTo(HaveOccurred())
			Expect(classQueue(sr.Results[0], 0)).To(BeNumerically("~", 3, 1e-9))
			Expect(classQueue(sr.Results[1], 1)).To(BeNumerically("~", 8, 1e-9))
		})

		It("should round a population within tolerance and reject one outside it", func() {
			ctrl := NewController(closedPairModel())
			sr, err := ctrl.Run(ctx, SweepSpec{Dimension: Customers, Class: 1, Station: -1, Values: []float64{5 + 1e-10, 2.5}})
			Expect(err).To(MatchError(ErrInputData))
			Expect(err.Error()).To(ContainSubstring("online"))
			Expect(stepOf(err)).To(Equal(1))
			Expect(classQueue(sr.Results[0], 1)).To(BeNumerically("~", 5, 1e-9))
		})
	})

	Context("with a demand sweep", func() {
		It("should refuse a load-dependent target station", func() {
			ctrl := NewController(closedPairModel())
			sr, err := ctrl.Run(ctx, SweepSpec{Dimension: Demands, Class: -1, Station: 1, Values: []float64{1.5}})
			Expect(err).To(MatchError(ErrInputData))
			Expect(err.Error()).To(ContainSubstring("pool"))
			Expect(sr.Results).To(BeEmpty())
		})

		It("should set an absolute demand for one station and class", func() {
			ctrl := NewController(closedPairModel())
			sr, err := ctrl.Run(ctx, SweepSpec{Dimension: Demands, Class: 0, Station: 0, Values: []float64{0.2}})
			Expect(err).NotTo(HaveOccurred())
			res := sr.Results[0]
			X := res.Throughput[0][0]
			Expect(res.Utilization[0][0]).To(BeNumerically("~", 0.2*X, 1e-12))
		})

		It("should set every class's demand at a named station", func() {
			md := closedPairModel()
			sr, err := NewController(md).Run(ctx, SweepSpec{Dimension: Demands, Class: -1, Station: 0, Values: []float64{0.2}})
			Expect(err).NotTo(HaveOccurred())
			res := sr.Results[0]
			for r := range md.Classes {
				Expect(res.Utilization[0][r]).To(BeNumerically("~", 0.2*res.Throughput[0][r], 1e-12))
			}

			manual := md.Clone()
			manual.ServiceTimes[0][0] = 0.2
			manual.ServiceTimes[0][1] = 0.2
			Expect(Solve(manual)).To(Succeed())
			for r := range md.Classes {
				Expect(res.Throughput[0][r]).To(BeNumerically("~", manual.Result.Throughput[0][r], 1e-12))
			}
			Expect(md.ServiceTimes[0]).To(Equal([]float64{0.1, 0.05}))
		})

		It("should refuse a named station that serves no class", func() {
			md := closedPairModel()
			md.ServiceTimes[0] = []float64{0, 0}
			sr, err := NewController(md).Run(ctx, SweepSpec{Dimension: Demands, Class: -1, Station: 0, Values: []float64{0.2}})
			Expect(err).To(MatchError(ErrInputData))
			Expect(err.Error()).To(ContainSubstring("serves no class"))
			Expect(stepOf(err)).To(Equal(0))
			Expect(sr.Results).To(BeEmpty())
		})

		It("should slow the network as every demand grows", func() {
			ctrl := NewController(closedPairModel())
			sr, err := ctrl.Run(ctx, SweepSpec{Dimension: Demands, Class: -1, Station: -1, Values: []float64{1, 2}})
			Expect(err).NotTo(HaveOccurred())
			Expect(sr.Results[1].Throughput[0][0]).To(BeNumerically("<", sr.Results[0].Throughput[0][0]))
		})
	})

	Context("when stopped", func() {
		It("should end between steps and keep the completed results", func() {
			var ctrl *Controller
			seen := []int{}
			ctrl = NewController(openSweepModel(), WithIterationCallback(func(idx int, _ *ResultDesc) {
				seen = append(seen, idx)
				if idx == 1 {
					ctrl.Stop()
				}
			}))
			sr, err := ctrl.Run(ctx, SweepSpec{Dimension: Arrival, Class: 0, Station: -1, Values: []float64{1, 1.2, 1.4, 1.6}})
			Expect(err).NotTo(HaveOccurred())
			Expect(seen).To(Equal([]int{0, 1}))
			Expect(sr.Results).To(HaveLen(2))
			Expect(sr.OK).To(BeFalse())
			Expect(sr.State).To(Equal(Cancelled))
			Expect(ctrl.State()).To(Equal(Cancelled))

			// the controller can run again after a cancellation
			sr, err = ctrl.Run(ctx, SweepSpec{Dimension: Arrival, Class: 0, Station: -1, Values: []float64{1}})
			Expect(err).NotTo(HaveOccurred())
			Expect(sr.OK).To(BeTrue())
		})

		It("should ignore a stop made before the run and accept a nil context", func() {
			ctrl := NewController(openSweepModel())
			ctrl.Stop()
			sr, err := ctrl.Run(nil, SweepSpec{Dimension: Arrival, Class: 0, Station: -1, Values: []float64{1, 2}})
			Expect(err).NotTo(HaveOccurred())
			Expect(sr.Results).To(HaveLen(2))
			Expect(sr.State).To(Equal(Completed))
		})

		It("should run nothing under a cancelled context", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			sr, err := NewController(openSweepModel()).Run(cctx, SweepSpec{Dimension: Arrival, Class: 0, Station: -1, Values: []float64{1, 2}})
			Expect(err).NotTo(HaveOccurred())
			Expect(sr.Results).To(BeEmpty())
			Expect(sr.State).To(Equal(Cancelled))
		})
	})

	Context("with a trace", func() {
		It("should record one entry per step at successive virtual times", func() {
			tm := CreateTraceManager("sweep", true)
			sr, err := NewController(openSweepModel(), WithTrace(tm)).Run(ctx,
				SweepSpec{Dimension: Arrival, Class: 0, Station: -1, Values: []float64{1, 1.5, 2}})
			Expect(err).NotTo(HaveOccurred())
			for idx := range sr.Results {
				Expect(tm.Traces[idx]).To(HaveLen(1))
			}
			Expect(tm.Traces[2][0].TraceTime).To(Equal("2"))
			Expect(tm.NameByID).To(HaveKey(-1))

			filename := filepath.Join(GinkgoT().TempDir(), "sweep.json")
			Expect(sr.WriteToFile(filename)).To(Succeed())
		})
	})

	Describe("ParseDimension", func() {
		It("should accept names in any case", func() {
			for name, want := range map[string]Dimension{"arrival": Arrival, "CUSTOMERS": Customers, "Demands": Demands, "mix": Mix} {
				dim, err := ParseDimension(name)
				Expect(err).NotTo(HaveOccurred())
				Expect(dim).To(Equal(want))
			}
			_, err := ParseDimension("latency")
			Expect(err).To(HaveOccurred())
		})
	})
})
